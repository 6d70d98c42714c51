package main

import (
	"errors"

	"gridcity.ai/internal/sim/room"
)

// txFanout writes every entry to all sinks; one failing sink does not
// starve the others.
type txFanout []room.TxLogger

func (f txFanout) WriteTx(entry room.TxLogEntry) error {
	var errs []error
	for _, l := range f {
		if err := l.WriteTx(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type auditFanout []room.AuditLogger

func (f auditFanout) WriteAudit(entry room.AuditEntry) error {
	var errs []error
	for _, l := range f {
		if err := l.WriteAudit(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
