package observe

import (
	"context"
	"errors"
	"testing"
)

// TestConfig_Validate verifies configuration validation rules.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			"missing service name",
			Config{},
			ErrMissingServiceName,
		},
		{
			"valid minimal",
			Config{ServiceName: "querysync"},
			nil,
		},
		{
			"invalid tracing exporter",
			Config{ServiceName: "querysync", Tracing: TracingConfig{Enabled: true, Exporter: "bogus"}},
			ErrInvalidTracingExporter,
		},
		{
			"invalid sample pct",
			Config{ServiceName: "querysync", Tracing: TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.5}},
			ErrInvalidSamplePct,
		},
		{
			"invalid metrics exporter",
			Config{ServiceName: "querysync", Metrics: MetricsConfig{Enabled: true, Exporter: "bogus"}},
			ErrInvalidMetricsExporter,
		},
		{
			"invalid log level",
			Config{ServiceName: "querysync", Logging: LoggingConfig{Enabled: true, Level: "loud"}},
			ErrInvalidLogLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestNewObserver_Disabled verifies a disabled observer provides noop components.
func TestNewObserver_Disabled(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "querysync"})
	if err != nil {
		t.Fatalf("NewObserver error: %v", err)
	}

	if obs.Tracer() == nil {
		t.Error("expected non-nil tracer")
	}
	if obs.Meter() == nil {
		t.Error("expected non-nil meter")
	}
	if obs.Logger() == nil {
		t.Error("expected non-nil logger")
	}

	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
}

// TestNoop verifies the noop observer is usable end to end.
func TestNoop(t *testing.T) {
	obs := Noop()
	obs.Logger().Info(context.Background(), "dropped")

	mw, err := MiddlewareFromObserver(obs)
	if err != nil {
		t.Fatalf("MiddlewareFromObserver error: %v", err)
	}

	fn := mw.Instrument(QueryMeta{Op: OpFetch}, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	v, err := fn(context.Background())
	if err != nil {
		t.Fatalf("instrumented fn error: %v", err)
	}
	if v != "ok" {
		t.Errorf("instrumented fn = %v, want %q", v, "ok")
	}
}

// TestMiddlewareFromObserver_NilObserver verifies the nil guard.
func TestMiddlewareFromObserver_NilObserver(t *testing.T) {
	if _, err := MiddlewareFromObserver(nil); !errors.Is(err, ErrNilObserver) {
		t.Errorf("got %v, want ErrNilObserver", err)
	}
}
