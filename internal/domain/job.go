package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job is a queued generation request as persisted in the jobs table
type Job struct {
	JobID          string     `db:"job_id"`
	JobType        JobType    `db:"job_type"`
	UserID         string     `db:"user_id"`
	IdempotencyKey *string    `db:"idempotency_key"`
	Payload        []byte     `db:"payload"`
	Status         string     `db:"status"`
	WorkerID       *string    `db:"worker_id"`
	TimeoutSeconds int        `db:"timeout_seconds"`
	EnqueuedAt     time.Time  `db:"enqueued_at"`
	ClaimedAt      *time.Time `db:"claimed_at"`
}

// Envelope carries the fields every job payload shares
type Envelope struct {
	UserID            string          `json:"user_id"`
	ChatID            string          `json:"chat_id"`
	Prompt            string          `json:"prompt"`
	Session           json.RawMessage `json:"session,omitempty"`
	Count             int             `json:"count"`
	Cost              int             `json:"cost"`
	UseFreeGeneration bool            `json:"use_free_generation"`
}

// Payload is the closed set of job payloads, one per JobType
type Payload interface {
	JobType() JobType
	Common() Envelope
	isPayload()
}

// LogoJob asks for Count independent logo concepts
type LogoJob struct {
	Envelope
	BrandName string   `json:"brand_name"`
	Style     string   `json:"style,omitempty"`
	Colors    []string `json:"colors,omitempty"`
}

// MemeJob asks for one meme, optionally conditioned on a reference image
type MemeJob struct {
	Envelope
	Quality           string `json:"quality"`
	ReferenceImageURL string `json:"reference_image_url,omitempty"`
	TopText           string `json:"top_text,omitempty"`
	BottomText        string `json:"bottom_text,omitempty"`
}

// StickerJob asks for Count stickers billed per unit
type StickerJob struct {
	Envelope
	UnitCost int      `json:"unit_cost"`
	Emotions []string `json:"emotions,omitempty"`
}

// EditJob applies an instruction to an existing image
type EditJob struct {
	Envelope
	SourceImageURL string `json:"source_image_url"`
	Instruction    string `json:"instruction"`
}

// PackageJob derives a brand asset package from a base image
type PackageJob struct {
	Envelope
	BaseImageURL string `json:"base_image_url"`
	DisplayName  string `json:"display_name"`
}

func (LogoJob) JobType() JobType    { return JobTypeLogo }
func (MemeJob) JobType() JobType    { return JobTypeMeme }
func (StickerJob) JobType() JobType { return JobTypeSticker }
func (EditJob) JobType() JobType    { return JobTypeEdit }
func (PackageJob) JobType() JobType { return JobTypePackage }

func (j LogoJob) Common() Envelope    { return j.Envelope }
func (j MemeJob) Common() Envelope    { return j.Envelope }
func (j StickerJob) Common() Envelope { return j.Envelope }
func (j EditJob) Common() Envelope    { return j.Envelope }
func (j PackageJob) Common() Envelope { return j.Envelope }

func (LogoJob) isPayload()    {}
func (MemeJob) isPayload()    {}
func (StickerJob) isPayload() {}
func (EditJob) isPayload()    {}
func (PackageJob) isPayload() {}

// DecodePayload parses raw JSON into the payload variant for jobType
func DecodePayload(jobType JobType, raw []byte) (Payload, error) {
	var (
		payload Payload
		err     error
	)

	switch jobType {
	case JobTypeLogo:
		var p LogoJob
		err = json.Unmarshal(raw, &p)
		payload = p
	case JobTypeMeme:
		var p MemeJob
		err = json.Unmarshal(raw, &p)
		payload = p
	case JobTypeSticker:
		var p StickerJob
		err = json.Unmarshal(raw, &p)
		payload = p
	case JobTypeEdit:
		var p EditJob
		err = json.Unmarshal(raw, &p)
		payload = p
	case JobTypePackage:
		var p PackageJob
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if payload.Common().UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}

	return payload, nil
}

// EncodePayload serialises a payload for storage
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

// JobMessage is the wake-up message published after a job is persisted
type JobMessage struct {
	JobID   string  `json:"job_id"`
	JobType JobType `json:"job_type"`
}
