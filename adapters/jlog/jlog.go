package jlog

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/Dipanshu-verma/profilesync"
)

// New returns a profilesync.Logger that writes through the jettison log package. Errors are logged with their
// profilesync.ErrorKind so that retriable failures can be told apart from terminal ones.
func New() *logger {
	return &logger{}
}

type logger struct{}

func (l logger) Debug(ctx context.Context, msg string, meta profilesync.MKV) {
	log.Debug(ctx, msg, j.MKS(meta))
}

func (l logger) Error(ctx context.Context, err error) {
	log.Error(ctx, errors.Wrap(err, "", j.MKV{"error_kind": string(profilesync.Classify(err))}))
}

var _ profilesync.Logger = (*logger)(nil)
