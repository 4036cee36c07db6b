// internal/match/report.go
package match

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/jason-s-yu/tetrion/internal/protocol"
)

// SessionReporter delivers the final result to the session service over its
// control channel: a short-lived framed connection issuing the internal
// report_result action.
type SessionReporter struct {
	Addr string
}

// Report dials the session service, sends the result, and waits for the
// acknowledgment so the caller knows the room was released.
func (r *SessionReporter) Report(data protocol.ReportResultData) error {
	c, err := net.DialTimeout("tcp", r.Addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial session service: %w", err)
	}
	fc := protocol.NewConn(c)
	defer fc.Close()

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := fc.Write(protocol.Request{Action: protocol.ActionReportResult, Data: payload}); err != nil {
		return fmt.Errorf("send result: %w", err)
	}

	raw, err := fc.ReadDeadline(5 * time.Second)
	if err != nil {
		return fmt.Errorf("await ack: %w", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if resp.Status != protocol.StatusSuccess {
		return fmt.Errorf("session service rejected result: %s", resp.Message)
	}
	return nil
}
