package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

var errProgressCanceled = errors.New("progress canceled by controller")

// progressBar is one progress bar opened on the controller with
// progress/start.
type progressBar struct {
	a  *agent
	id string
}

func (a *agent) startProgress(ctx context.Context, opts protocol.ProgressOptions) (*progressBar, error) {
	bar := &progressBar{a: a, id: uuid.NewString()}
	if err := a.s.Notify(ctx, protocol.ProgressStartNotificationMethod, protocol.ProgressStartParams{
		ID:      bar.id,
		Options: opts,
	}); err != nil {
		return nil, fmt.Errorf("progress/start: %w", err)
	}
	return bar, nil
}

func (b *progressBar) report(ctx context.Context, message string, increment int) error {
	return b.a.s.Notify(ctx, protocol.ProgressReportNotificationMethod, protocol.ProgressReportParams{
		ID:        b.id,
		Message:   message,
		Increment: increment,
	})
}

// end closes the bar even when the request that opened it was canceled.
func (b *progressBar) end(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := b.a.s.Notify(ctx, protocol.ProgressEndNotificationMethod, protocol.ProgressIDParams{ID: b.id}); err != nil {
		b.a.log.WarnContext(ctx, "worker.progress.end.err", slog.String("id", b.id), slog.String("err", err.Error()))
	}
}

// testingProgress opens a progress bar, reports it to completion and closes
// it.
func (a *agent) testingProgress(ctx context.Context, p protocol.TestingProgressParams) (protocol.TestingProgressResult, error) {
	bar, err := a.startProgress(ctx, protocol.ProgressOptions{Title: p.Title})
	if err != nil {
		return protocol.TestingProgressResult{}, err
	}
	defer bar.end(ctx)

	for i, inc := range []int{33, 33, 34} {
		select {
		case <-ctx.Done():
			return protocol.TestingProgressResult{}, ctx.Err()
		case <-time.After(a.w.progressInterval):
		}
		if err := bar.report(ctx, fmt.Sprintf("step %d", i+1), inc); err != nil {
			return protocol.TestingProgressResult{}, err
		}
	}
	return protocol.TestingProgressResult{Result: "success"}, nil
}

// testingProgressCancelation reports on a cancellable progress bar until the
// controller sends progress/cancel for it.
func (a *agent) testingProgressCancelation(ctx context.Context, p protocol.TestingProgressParams) (protocol.TestingProgressResult, error) {
	bar, err := a.startProgress(ctx, protocol.ProgressOptions{Title: p.Title, Cancellable: true})
	if err != nil {
		return protocol.TestingProgressResult{}, err
	}
	defer bar.end(ctx)

	pctx, cancel := context.WithCancelCause(ctx)
	a.mu.Lock()
	a.bars[bar.id] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.bars, bar.id)
		a.mu.Unlock()
		cancel(nil)
	}()

	ticker := time.NewTicker(a.w.progressInterval)
	defer ticker.Stop()
	for tick := 1; ; tick++ {
		select {
		case <-pctx.Done():
			if errors.Is(context.Cause(pctx), errProgressCanceled) {
				return protocol.TestingProgressResult{Result: "canceled"}, nil
			}
			return protocol.TestingProgressResult{}, ctx.Err()
		case <-ticker.C:
			if err := bar.report(pctx, fmt.Sprintf("tick %d", tick), 0); err != nil {
				return protocol.TestingProgressResult{}, err
			}
		}
	}
}

func (a *agent) cancelProgress(ctx context.Context, p protocol.ProgressIDParams) {
	a.mu.Lock()
	cancel, ok := a.bars[p.ID]
	a.mu.Unlock()
	if !ok {
		a.log.DebugContext(ctx, "worker.progress.cancel.unknown", slog.String("id", p.ID))
		return
	}
	cancel(errProgressCanceled)
}
