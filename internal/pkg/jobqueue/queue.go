package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/DennisKoslow/ProxyDesk/internal/pkg/cache"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"

	// Job settings
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour // Jobs expire after 24 hours
)

// Processor handles one job type.
type Processor func(ctx context.Context, job *Job) error

// Queue manages background jobs using Redis
type Queue struct {
	client     *redis.Client
	workers    int
	processors map[string]Processor
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewQueue creates a new job queue
func NewQueue(workers int) *Queue {
	if workers <= 0 {
		workers = 2 // Default number of workers
	}

	return &Queue{
		client:     cache.GetClient(),
		workers:    workers,
		processors: make(map[string]Processor),
		stopCh:     make(chan struct{}),
	}
}

// RegisterProcessor binds a handler to a job type. Must be called before
// Start.
func (q *Queue) RegisterProcessor(jobType string, p Processor) {
	q.processors[jobType] = p
}

// Enqueue stores the job and pushes its id onto the pending list.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, raw, JobTTL).Err(); err != nil {
		return err
	}
	if err := q.client.RPush(ctx, JobQueueKey, job.ID).Err(); err != nil {
		return err
	}
	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return nil
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
			job, err := q.dequeueJob(ctx)
			if err != nil {
				if err != redis.Nil {
					log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
				}
				time.Sleep(time.Second)
				continue
			}
			if job != nil {
				log.Infof("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
				q.processJob(ctx, job)
			}
		}
	}
}

// dequeueJob moves one job id from pending to processing and loads it.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	id, err := q.client.LMove(ctx, JobQueueKey, JobProcessingKey, "LEFT", "RIGHT").Result()
	if err != nil {
		return nil, err
	}

	raw, err := q.client.Get(ctx, JobKeyPrefix+id).Result()
	if err != nil {
		// Job data expired; drop the stray processing entry.
		_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
		return nil, err
	}

	now := time.Now()
	job.Status = JobStatusProcessing
	job.ProcessedAt = &now
	job.UpdatedAt = now
	q.updateJob(ctx, &job)
	return &job, nil
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	defer func() {
		_ = q.client.LRem(ctx, JobProcessingKey, 1, job.ID).Err()
	}()

	processor, found := q.processors[job.Type]
	if !found {
		job.Status = JobStatusFailed
		job.ErrorMsg = fmt.Sprintf("no processor registered for type %s", job.Type)
		job.UpdatedAt = time.Now()
		q.updateJob(ctx, job)
		log.Errorf("[JobQueue] %s", job.ErrorMsg)
		return
	}

	err := processor(ctx, job)
	job.UpdatedAt = time.Now()
	if err == nil {
		job.Status = JobStatusCompleted
		job.ErrorMsg = ""
		q.updateJob(ctx, job)
		log.Infof("[JobQueue] Job %s completed", job.ID)
		return
	}

	job.Retries++
	job.ErrorMsg = err.Error()
	if job.Retries >= job.MaxRetries {
		job.Status = JobStatusFailed
		q.updateJob(ctx, job)
		log.Errorf("[JobQueue] Job %s failed permanently after %d retries: %v", job.ID, job.Retries, err)
		return
	}

	// Requeue for another attempt.
	job.Status = JobStatusPending
	q.updateJob(ctx, job)
	if rerr := q.client.RPush(ctx, JobQueueKey, job.ID).Err(); rerr != nil {
		log.Errorf("[JobQueue] Requeue job %s: %v", job.ID, rerr)
	}
	log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), requeued: %v", job.ID, job.Retries, job.MaxRetries, err)
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	raw, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, raw, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Persist job %s: %v", job.ID, err)
	}
}
