package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DennisKoslow/ProxyDesk/internal/pkg/cache"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/database"
)

const (
	planSoldKey = "plan:counters:sold"
)

// AddPlanSold increments the pending sold counter for a plan in Redis.
// Increments are drained to the database in batches by FlushAll.
func AddPlanSold(planID uint, quantity int) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(planID), 10)
	return cache.GetClient().HIncrBy(ctx, planSoldKey, field, int64(quantity)).Err()
}

// FlushAll flushes pending counters to the database.
func FlushAll() error {
	return flushHashToTable(planSoldKey, "plans", "sold_count")
}

// flushHashToTable drains a Redis hash atomically and applies batched
// increments to the target column. Uses RENAME to a temporary key so
// in-flight increments are not lost.
func flushHashToTable(redisKey, table, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If the key does not exist there is nothing to flush.
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	ids := make([]string, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("UPDATE %s SET %s = %s + CASE id", table, column, column))
	args := make([]interface{}, 0, len(ids)*2+len(ids))
	for _, id := range ids {
		sb.WriteString(" WHEN ? THEN ?")
		inc, _ := strconv.ParseInt(data[id], 10, 64)
		args = append(args, id, inc)
	}
	sb.WriteString(" ELSE 0 END WHERE id IN (")
	for i, id := range ids {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("?")
		args = append(args, id)
	}
	sb.WriteString(")")

	return database.GetDB().Exec(sb.String(), args...).Error
}

// StartFlusher drains counters on a fixed interval until stop is closed.
func StartFlusher(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				_ = FlushAll()
				return
			case <-ticker.C:
				_ = FlushAll()
			}
		}
	}()
}
