// Package otlpserver accepts OTLP/gRPC log exports and feeds them into
// the ingest gate, so OpenTelemetry collectors can ship error logs
// without a custom agent.
package otlpserver

import (
	"context"
	"log"
	"net"
	"strconv"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/grpc"

	"github.com/tinytelemetry/faultline/internal/logparse"
	"github.com/tinytelemetry/faultline/internal/model"
)

// Resource attribute keys consulted when converting an export.
const (
	attrTenant      = "tenant"
	attrServiceName = "service.name"
	attrHostName    = "host.name"

	attrExceptionType    = "exception.type"
	attrExceptionMessage = "exception.message"
	attrExceptionStack   = "exception.stacktrace"
)

// Ingester is the gate exported log records are handed to.
type Ingester interface {
	Ingest(ctx context.Context, tenant string, events []*model.LogEvent) []model.Outcome
}

// Server is a gRPC LogsService endpoint.
type Server struct {
	collogspb.UnimplementedLogsServiceServer

	addr          string
	ingester      Ingester
	defaultTenant string
	severityFloor string
	grpcServer    *grpc.Server
}

// Config holds the server wiring.
type Config struct {
	Addr          string
	Ingester      Ingester
	DefaultTenant string // used when the resource carries no tenant attribute
	SeverityFloor string // records below this severity are dropped, default ERROR
}

// NewServer creates an OTLP logs server.
func NewServer(conf Config) *Server {
	addr := conf.Addr
	if addr == "" {
		addr = "0.0.0.0:4317"
	}
	floor := conf.SeverityFloor
	if floor == "" {
		floor = "ERROR"
	}
	return &Server{
		addr:          addr,
		ingester:      conf.Ingester,
		defaultTenant: conf.DefaultTenant,
		severityFloor: floor,
	}
}

// Start begins serving gRPC requests.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.grpcServer = grpc.NewServer()
	collogspb.RegisterLogsServiceServer(s.grpcServer, s)

	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			log.Printf("otlp: serve error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the gRPC server.
func (s *Server) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

// Export implements the OTLP logs service. Each resource batch is
// ingested under the tenant named by its resource attributes. Records
// below the severity floor and records the gate did not accept are
// reported via partial success.
func (s *Server) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	var rejected int64

	for _, rl := range req.GetResourceLogs() {
		tenant := s.defaultTenant
		service, host := "", ""
		for _, kv := range rl.GetResource().GetAttributes() {
			switch kv.GetKey() {
			case attrTenant:
				tenant = kv.GetValue().GetStringValue()
			case attrServiceName:
				service = kv.GetValue().GetStringValue()
			case attrHostName:
				host = kv.GetValue().GetStringValue()
			}
		}

		var events []*model.LogEvent
		for _, sl := range rl.GetScopeLogs() {
			logger := sl.GetScope().GetName()
			for _, lr := range sl.GetLogRecords() {
				event := convertRecord(lr, logger, service, host)
				if !logparse.AtLeast(event.Severity, s.severityFloor) {
					rejected++
					continue
				}
				events = append(events, event)
			}
		}
		if len(events) == 0 {
			continue
		}

		for _, outcome := range s.ingester.Ingest(ctx, tenant, events) {
			switch outcome.Status {
			case model.OutcomeAccepted, model.OutcomeDeduplicated:
			default:
				rejected++
			}
		}
	}

	resp := &collogspb.ExportLogsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: rejected,
			ErrorMessage:       "some log records were not accepted",
		}
	}
	return resp, nil
}

func convertRecord(lr *logspb.LogRecord, logger, service, host string) *model.LogEvent {
	event := &model.LogEvent{
		Severity: severityOf(lr),
		Logger:   logger,
		Message:  lr.GetBody().GetStringValue(),
		Service:  service,
		Host:     host,
	}
	if ts := lr.GetTimeUnixNano(); ts > 0 {
		event.Timestamp = time.Unix(0, int64(ts)).UTC()
	}

	for _, kv := range lr.GetAttributes() {
		val := stringValue(kv.GetValue())
		switch kv.GetKey() {
		case attrExceptionType:
			event.ExceptionType = val
		case attrExceptionMessage:
			event.ExceptionMessage = val
		case attrExceptionStack:
			event.StackTrace = val
		default:
			if event.Metadata == nil {
				event.Metadata = make(map[string]string)
			}
			event.Metadata[kv.GetKey()] = val
		}
	}
	return event
}

// severityOf prefers the severity text and falls back to the numeric
// range defined by the OTLP data model.
func severityOf(lr *logspb.LogRecord) string {
	if text := lr.GetSeverityText(); text != "" {
		return logparse.NormalizeSeverity(text)
	}
	n := lr.GetSeverityNumber()
	switch {
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_FATAL:
		return "FATAL"
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_ERROR:
		return "ERROR"
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_WARN:
		return "WARN"
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_INFO:
		return "INFO"
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_DEBUG:
		return "DEBUG"
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_TRACE:
		return "TRACE"
	default:
		return "INFO"
	}
}

func stringValue(v *commonpb.AnyValue) string {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case nil:
		return ""
	default:
		return v.String()
	}
}
