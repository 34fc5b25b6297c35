package project

import (
	"errors"
	"fmt"
)

var (
	ErrUnitBusy       = errors.New("unit is already generating")
	ErrUnitNotPending = errors.New("unit is not generating")
	ErrUnitNotFound   = errors.New("unit not found")
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Asset is a generated image. Bytes are kept only until the asset is re-hosted or delivered.
type Asset struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Bytes    []byte `json:"-"`
}

// Unit tracks one generation target through Idle -> Pending -> Succeeded|Failed.
// Succeeded and Failed units can be started again.
type Unit struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	Asset     *Asset `json:"asset,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func (u *Unit) HasAsset() bool {
	return u.Asset != nil
}

func (u *Unit) Start() error {
	switch u.Status {
	case StatusPending:
		return ErrUnitBusy
	case StatusIdle, StatusSucceeded, StatusFailed, "":
		u.Status = StatusPending
		u.LastError = ""
		return nil
	default:
		return fmt.Errorf("unknown unit status %q", u.Status)
	}
}

// Complete stores asset, replacing any earlier one.
func (u *Unit) Complete(asset Asset) error {
	if u.Status != StatusPending {
		return ErrUnitNotPending
	}
	a := asset
	u.Asset = &a
	u.Status = StatusSucceeded
	return nil
}

// Fail records cause and keeps the previous asset.
func (u *Unit) Fail(cause error) error {
	if u.Status != StatusPending {
		return ErrUnitNotPending
	}
	u.Status = StatusFailed
	if cause != nil {
		u.LastError = cause.Error()
	}
	return nil
}

func (u Unit) clone() Unit {
	if u.Asset != nil {
		a := *u.Asset
		u.Asset = &a
	}
	return u
}
