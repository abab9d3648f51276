package installer

import (
	"errors"
	"time"

	"github.com/italolelis/apphub_installer/internal/download"
)

// ErrInProgress is returned by Install when the app already has an attempt in flight.
var ErrInProgress = errors.New("install already in progress")

// DownloadErrorInfo is the last failed attempt, kept until cleared so a client
// can offer a retry.
type DownloadErrorInfo struct {
	AppID               string          `json:"appId"`
	AppName             string          `json:"appName"`
	Kind                string          `json:"kind"`
	Message             string          `json:"message"`
	Retryable           bool            `json:"retryable"`
	NeedsCatalogRefresh bool            `json:"needsCatalogRefresh"`
	At                  time.Time       `json:"at"`
	Err                 *download.Error `json:"-"`
}

func newDownloadErrorInfo(appID, appName string, err *download.Error, at time.Time) *DownloadErrorInfo {
	return &DownloadErrorInfo{
		AppID:               appID,
		AppName:             appName,
		Kind:                err.Kind.String(),
		Message:             err.Message(),
		Retryable:           err.Retryable(),
		NeedsCatalogRefresh: err.NeedsCatalogRefresh(),
		At:                  at,
		Err:                 err,
	}
}
