package fiber

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/lborres/templatex/services"
)

const eventState = "state"

func (a *Adapter) streamEvents(c fiber.Ctx) error {
	cl := clientFrom(c)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		a.clients.attach(cl)
		defer a.clients.detach(cl)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-cl.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := a.stream(ctx, cl, w); err != nil {
			a.logger.Debug("event stream closed", slog.String("client", cl.id), slog.Any("error", err))
		}
	})
}

// stream writes the view model after every render until ctx is done or a
// write fails. Renders that arrive faster than the writer are coalesced;
// notices are never dropped.
func (a *Adapter) stream(ctx context.Context, cl *client, w *bufio.Writer) error {
	updates := make(chan services.ViewModel, 1)
	var remove func()

	err := cl.do(ctx, func(app *services.App) error {
		push := func() {
			vm := app.ViewModel()
			vm.Notices = app.Notices()
			select {
			case old := <-updates:
				vm.Notices = append(old.Notices, vm.Notices...)
			default:
			}
			updates <- vm
		}
		remove = app.OnRender(push)
		push()
		return nil
	})
	if err != nil {
		return err
	}
	defer func() {
		unsubCtx, unsubCancel := context.WithTimeout(context.Background(), time.Second)
		defer unsubCancel()
		_ = cl.do(unsubCtx, func(*services.App) error {
			remove()
			return nil
		})
	}()

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case vm := <-updates:
			if err := writeEvent(w, eventState, vm); err != nil {
				return err
			}
		case <-heartbeat.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w *bufio.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}
