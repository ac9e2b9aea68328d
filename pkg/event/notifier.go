package event

import (
	"context"
	"time"

	"sshstudio/pkg/network"

	"github.com/sirupsen/logrus"
)

type ReportFuncKeyType string

var ReportFuncKey ReportFuncKeyType = "ReportFuncKey"

// Reporter forwards events to an HTTP endpoint listening on a unix socket.
// Shell output is not forwarded; every other event becomes one GET /notify.
type Reporter struct {
	client *network.Client
}

func InitializeReporter(endpoint string) *Reporter {
	if endpoint == "" {
		return nil
	}

	addr, err := network.ParseUnixAddr(endpoint)
	if err != nil {
		logrus.Warnf("ignoring report socket %q: %v", endpoint, err)
		return nil
	}

	return &Reporter{
		client: network.NewUnixClient(addr.Path, network.WithTimeout(1*time.Second)),
	}
}

// Emit implements Sink. Delivery errors are logged and dropped.
func (r *Reporter) Emit(ctx context.Context, evt Event) {
	if evt.Name == ShellOutput {
		return
	}
	if err := r.SendEvent(ctx, evt.Stage, evt.Name, evt.Value); err != nil {
		logrus.Debugf("failed to report event %s: %v", evt.Name, err)
	}
}

// SendEvent sends one event and reports transport errors.
func (r *Reporter) SendEvent(ctx context.Context, stage StageName, evtName EvtName, value string) error {
	if r == nil || r.client == nil {
		return nil
	}

	resp, err := r.client.Get("/notify").
		Query("stage", string(stage)).
		Query("name", string(evtName)).
		Query("value", value).
		Do(ctx)
	if err != nil {
		return err
	}

	network.CloseResponse(resp)
	return nil
}

// Close closes the reporter's HTTP client
func (r *Reporter) Close() error {
	if r != nil && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// WithReporter stores r in ctx
func WithReporter(ctx context.Context, r *Reporter) context.Context {
	return context.WithValue(ctx, ReportFuncKey, r)
}

func GetReporterFromCtx(ctx context.Context) *Reporter {
	if ctx == nil {
		return nil
	}

	v := ctx.Value(ReportFuncKey)
	if v == nil {
		return nil
	}

	fn, ok := v.(*Reporter)
	if !ok {
		return nil
	}

	return fn
}
