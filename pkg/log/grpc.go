package log

import (
	"google.golang.org/grpc/grpclog"
)

// grpcLogger routes grpc-go internal logging through this package.
// Informational grpc chatter is demoted to trace level.
type grpcLogger struct{}

// InstallGrpcLogger replaces the grpc-go logger.
// Must be called before any grpc activity.
func InstallGrpcLogger() {
	grpclog.SetLoggerV2(grpcLogger{})
}

func (grpcLogger) Info(args ...any)                    { Trace(append([]any{"grpc:"}, args...)...) }
func (grpcLogger) Infoln(args ...any)                  { Trace(append([]any{"grpc:"}, args...)...) }
func (grpcLogger) Infof(format string, args ...any)    { Tracef("grpc: "+format, args...) }
func (grpcLogger) Warning(args ...any)                 { Debug(append([]any{"grpc:"}, args...)...) }
func (grpcLogger) Warningln(args ...any)               { Debug(append([]any{"grpc:"}, args...)...) }
func (grpcLogger) Warningf(format string, args ...any) { Debugf("grpc: "+format, args...) }
func (grpcLogger) Error(args ...any)                   { Error(append([]any{"grpc:"}, args...)...) }
func (grpcLogger) Errorln(args ...any)                 { Error(append([]any{"grpc:"}, args...)...) }
func (grpcLogger) Errorf(format string, args ...any)   { Errorf("grpc: "+format, args...) }
func (grpcLogger) Fatal(args ...any)                   { Fatal(append([]any{"grpc:"}, args...)...) }
func (grpcLogger) Fatalln(args ...any)                 { Fatal(append([]any{"grpc:"}, args...)...) }
func (grpcLogger) Fatalf(format string, args ...any)   { Fatalf("grpc: "+format, args...) }

func (grpcLogger) V(l int) bool {
	switch l {
	case 0:
		return ShouldLog(InfoLevel, GetLevel())
	case 1:
		return ShouldLog(DebugLevel, GetLevel())
	default:
		return ShouldLog(TraceLevel, GetLevel())
	}
}

var _ grpclog.LoggerV2 = grpcLogger{}
