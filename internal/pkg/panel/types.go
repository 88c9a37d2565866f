package panel

import (
	"encoding/json"
	"fmt"

	"github.com/DennisKoslow/ProxyDesk/app/models"
)

// apiResponse is the panel's uniform wire envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// wireInbound is an inbound as the panel transmits it: settings,
// streamSettings and sniffing arrive as JSON-encoded strings.
type wireInbound struct {
	ID             int    `json:"id"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Tag            string `json:"tag"`
	Listen         string `json:"listen"`
	Enable         bool   `json:"enable"`
	Remark         string `json:"remark"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
	Sniffing       string `json:"sniffing"`
}

// Inbound is the decoded, strongly typed form handed to callers. Decoding
// happens exactly once, at this boundary; nothing downstream re-parses the
// embedded JSON strings.
type Inbound struct {
	ID             int
	Port           int
	Protocol       string
	Tag            string
	Listen         string
	Enable         bool
	Remark         string
	Settings       models.InboundSettings
	StreamSettings models.StreamSettings
	Sniffing       models.Sniffing
}

func (w wireInbound) decode() (Inbound, error) {
	out := Inbound{
		ID:       w.ID,
		Port:     w.Port,
		Protocol: w.Protocol,
		Tag:      w.Tag,
		Listen:   w.Listen,
		Enable:   w.Enable,
		Remark:   w.Remark,
	}
	if w.Settings != "" {
		if err := json.Unmarshal([]byte(w.Settings), &out.Settings); err != nil {
			return out, fmt.Errorf("inbound %d: decode settings: %w", w.ID, err)
		}
	}
	if w.StreamSettings != "" {
		if err := json.Unmarshal([]byte(w.StreamSettings), &out.StreamSettings); err != nil {
			return out, fmt.Errorf("inbound %d: decode streamSettings: %w", w.ID, err)
		}
	}
	if w.Sniffing != "" {
		if err := json.Unmarshal([]byte(w.Sniffing), &out.Sniffing); err != nil {
			return out, fmt.Errorf("inbound %d: decode sniffing: %w", w.ID, err)
		}
	}
	return out, nil
}

// encode re-serializes the typed form for write-back calls.
func (i Inbound) encode() (wireInbound, error) {
	settings, err := json.Marshal(i.Settings)
	if err != nil {
		return wireInbound{}, err
	}
	stream, err := json.Marshal(i.StreamSettings)
	if err != nil {
		return wireInbound{}, err
	}
	sniffing, err := json.Marshal(i.Sniffing)
	if err != nil {
		return wireInbound{}, err
	}
	return wireInbound{
		ID:             i.ID,
		Port:           i.Port,
		Protocol:       i.Protocol,
		Tag:            i.Tag,
		Listen:         i.Listen,
		Enable:         i.Enable,
		Remark:         i.Remark,
		Settings:       string(settings),
		StreamSettings: string(stream),
		Sniffing:       string(sniffing),
	}, nil
}
