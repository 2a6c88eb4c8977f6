package trace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/keboola/go-fetch/pkg/request"
)

// logTrace writes lines in the format:
//
//	HTTP_REQUEST[0001] SESSION[<id>#<generation>] STAGE METHOD "url" | details...
//
// The SESSION part is omitted for requests sent outside a fetch session.
type logTrace struct {
	ClientTrace
	wr     io.Writer
	prefix string
	method string
	url    string
}

// LogTracer writes one line per request stage to the writer.
func LogTracer(wr io.Writer) Factory {
	var idGenerator uint64
	return func(ctx context.Context, reqDef request.HTTPRequest) (context.Context, *ClientTrace) {
		t := &logTrace{
			wr:     wr,
			prefix: logPrefix(atomic.AddUint64(&idGenerator, 1), sessionLabel(ctx)),
			method: reqDef.Method(),
			url:    reqDef.URL(),
		}

		var connStartTime, startTime, doneTime time.Time
		var statusCode int

		t.ConnectStart = func(network, addr string) {
			connStartTime = time.Now()
		}
		t.GotConn = func(info httptrace.GotConnInfo) {
			switch {
			case !info.Reused:
				t.log("CONN ", "new conn", time.Since(connStartTime).String())
			case info.WasIdle:
				t.log("CONN ", "reused conn")
			default:
				t.log("CONN ", fmt.Sprintf("reused conn (was idle=%s)", info.IdleTime))
			}
		}
		t.HTTPRequestStart = func(r *http.Request) {
			t.method, t.url = r.Method, r.URL.String()
			startTime = time.Now()
			t.log("START")
		}
		t.HTTPRequestDone = func(r *http.Response, err error) {
			doneTime = time.Now()
			if err == nil {
				statusCode = r.StatusCode
			}
			t.log("DONE ", appendError([]string{fmt.Sprint(statusCode), doneTime.Sub(startTime).String()}, err)...)
		}
		t.HTTPRequestRetry = func(attempt int, delay time.Duration) {
			t.log("RETRY", fmt.Sprintf("%dx", attempt), delay.String())
		}
		t.RequestProcessed = func(readBytes int64, err error) {
			if doneTime.IsZero() {
				doneTime = time.Now()
			}
			t.log("BODY ", appendError([]string{fmt.Sprintf("%dB", readBytes), time.Since(doneTime).String()}, err)...)
		}
		return ctx, &t.ClientTrace
	}
}

func logPrefix(requestID uint64, session string) string {
	if session == "" {
		return fmt.Sprintf("HTTP_REQUEST[%04d]", requestID)
	}
	return fmt.Sprintf("HTTP_REQUEST[%04d] SESSION[%s]", requestID, session)
}

func appendError(details []string, err error) []string {
	if err != nil {
		details = append(details, "error="+err.Error())
	}
	return details
}

func (t *logTrace) log(stage string, details ...string) {
	var b strings.Builder
	fmt.Fprintf(&b, `%s %s %s "%s"`, t.prefix, stage, t.method, t.url)
	for _, d := range details {
		b.WriteString(" | ")
		b.WriteString(d)
	}
	_, _ = fmt.Fprintln(t.wr, b.String())
}
