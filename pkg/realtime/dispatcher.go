package realtime

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/metrics"
	"github.com/HMasataka/relay/internal/upstream"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/HMasataka/relay/pkg/transport/protocol"
	"github.com/google/uuid"
)

// Client-facing error messages. They never carry internal detail.
const (
	msgMalformed  = "Malformed message"
	msgInvalid    = "Invalid message"
	msgProcessing = "Message processing failed"
)

// DispatcherOptions represents dispatcher dependencies
type DispatcherOptions struct {
	Hub      *Hub
	Codec    protocol.Codec
	Handlers protocol.HandlerRegistry
	Activity ActivityLogger
	Tasks    TaskRunner
	Logger   *logging.Logger
	// ActivityTimeout bounds one activity log call
	ActivityTimeout time.Duration
}

// Dispatcher decodes inbound frames and routes them to handlers. Nothing a
// single frame does can close the connection.
type Dispatcher struct {
	hub      *Hub
	codec    protocol.Codec
	handlers protocol.HandlerRegistry
	activity ActivityLogger
	tasks    TaskRunner
	logger   *logging.Logger
	errs     errors.Handler
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Codec == nil {
		opts.Codec = protocol.NewJSONCodec()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.ActivityTimeout <= 0 {
		opts.ActivityTimeout = 10 * time.Second
	}

	return &Dispatcher{
		hub:      opts.Hub,
		codec:    opts.Codec,
		handlers: opts.Handlers,
		activity: opts.Activity,
		tasks:    opts.Tasks,
		logger:   opts.Logger,
		errs:     errors.NewDefaultHandler(opts.Logger.Logger),
		timeout:  opts.ActivityTimeout,
	}
}

// Dispatch implements websocket.Dispatcher
func (d *Dispatcher) Dispatch(ctx context.Context, client domain.Client, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling message",
				"client_id", client.ID(),
				"panic", r,
			)
			d.hub.Reply(client, domain.NewError(errors.CodeInternal, msgProcessing))
		}
	}()

	d.hub.MarkReceived()

	msg, err := d.codec.Decode(frame)
	if err != nil {
		d.reject(ctx, client, err)
		return
	}

	metrics.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()
	d.logActivity(client, msg)

	start := time.Now()
	reply, err := d.handlers.Handle(ctx, client, msg)
	metrics.RecordHandler(string(msg.Type), time.Since(start))

	if err != nil {
		d.errs.HandleWithLogger(ctx, err, d.logger.With(
			"client_id", client.ID(),
			"message_type", msg.Type,
		))
		if !stderrors.Is(err, domain.ErrUnknownMessageType) {
			d.hub.Reply(client, domain.NewError(errors.CodeInternal, msgProcessing))
		}
		return
	}

	if reply != nil {
		if err := d.hub.Reply(client, reply); err != nil {
			d.logger.Warn("failed to send reply",
				"client_id", client.ID(),
				"message_type", msg.Type,
				"error", err,
			)
		}
	}
}

// reject answers decode failures. Unknown or missing types are dropped
// without a reply.
func (d *Dispatcher) reject(ctx context.Context, client domain.Client, err error) {
	if stderrors.Is(err, domain.ErrUnknownMessageType) {
		metrics.MessagesRejected.WithLabelValues("unknown_type").Inc()
		d.logger.Info("dropping message of unknown type",
			"client_id", client.ID(),
			"error", err,
		)
		return
	}

	e, ok := errors.As(err)
	if !ok {
		e = errors.Wrap(err, errors.ErrorTypeInternal, errors.CodeInternal, "decode failed")
	}

	message := msgProcessing
	switch e.Code {
	case errors.CodeMalformedMessage:
		message = msgMalformed
		metrics.MessagesRejected.WithLabelValues("malformed").Inc()
	case errors.CodeInvalidMessage:
		message = msgInvalid
		metrics.MessagesRejected.WithLabelValues("invalid").Inc()
	default:
		metrics.MessagesRejected.WithLabelValues("internal").Inc()
	}

	d.errs.HandleWithLogger(ctx, e, d.logger.With("client_id", client.ID()))
	d.hub.Reply(client, domain.NewError(e.Code, message))
}

// logActivity hands the activity record to the worker pool
func (d *Dispatcher) logActivity(client domain.Client, msg *domain.Message) {
	if d.activity == nil || d.tasks == nil {
		return
	}

	record := upstream.ActivityRecord{
		ID:        uuid.NewString(),
		UserID:    client.UserID(),
		Action:    string(msg.Type),
		Data:      msg.Data,
		Timestamp: time.Now().UnixMilli(),
	}

	err := d.tasks.Submit(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := d.activity.Log(ctx, record); err != nil {
			d.logger.Debug("activity log failed", "action", record.Action, "error", err)
		}
	})
	if err != nil {
		metrics.WorkerQueueRejected.Inc()
		d.logger.Debug("activity log not queued", "action", record.Action, "error", err)
	}
}
