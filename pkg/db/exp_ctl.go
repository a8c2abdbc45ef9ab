package db

import (
	"time"

	"github.com/yuxki/dytrust/pkg/revocation"
)

// ExpirationControl is responsible for checking if the next update of a
// stored token is in the past.
type ExpirationControl struct {
	warnOnExpiration bool
	freshness        revocation.Freshness
	logger           Logger
}

// ExpirationControlOption is an implementation of the functional options
// pattern.
type ExpirationControlOption = func(*ExpirationControl)

// NewExpirationControl creates and returns a new instance of ExpirationControl.
// It accepts optional functions.
func NewExpirationControl(options ...ExpirationControlOption) *ExpirationControl {
	eCtl := &ExpirationControl{
		logger: nopLogger{},
	}

	for _, opt := range options {
		opt(eCtl)
	}

	return eCtl
}

// WithWarnOnExpiration sets the value of the Warn On Expiration flag to true.
// When this flag is set to true, the instance will emit warnings instead of
// reporting entries as expired.
func WithWarnOnExpiration() func(*ExpirationControl) {
	return func(c *ExpirationControl) {
		c.warnOnExpiration = true
	}
}

func WithLogger(logger Logger) func(*ExpirationControl) {
	return func(c *ExpirationControl) {
		c.logger = logger
	}
}

// WithFreshness sets the next update delays used for tokens without a next
// update.
func WithFreshness(f revocation.Freshness) func(*ExpirationControl) {
	return func(c *ExpirationControl) {
		c.freshness = f
	}
}

// The Do method checks the next update of each entry in the received entry
// slice. If the current time is not before the next update, the entry is
// expired. Otherwise, the entry is valid.
// Revocations that are not on hold are final, so they are always valid.
// Entries with errors are neither valid nor expired, they are logged and
// dropped.
func (c *ExpirationControl) Do(now time.Time, entries []RowEntry) ([]RowEntry, []RowEntry) {
	valids := make([]RowEntry, 0, len(entries))
	expired := make([]RowEntry, 0)

	for idx := range entries {
		if err := entries[idx].Err(); err != nil {
			c.logger.InvalidMsg(entries[idx].Key, err.Error())
			continue
		}

		tok := entries[idx].Token
		if tok.Status == revocation.Revoked && !tok.OnHold() {
			valids = append(valids, entries[idx])
			continue
		}

		next := c.freshness.NextUpdate(tok)
		if now.Before(next) {
			valids = append(valids, entries[idx])
			continue
		}

		if c.warnOnExpiration {
			c.logger.WarnMsg(
				entries[idx].Key, "It is valid but it has exceeded next update",
			)
			valids = append(valids, entries[idx])
			continue
		}

		c.logger.InvalidMsg(
			entries[idx].Key, "It is no longer valid because it has exceeded next update",
		)
		expired = append(expired, entries[idx])
	}

	return valids, expired
}
