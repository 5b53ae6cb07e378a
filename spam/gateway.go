// Package spam keeps per-user sender reputation and feeds user reports back
// into the filter daemon.
package spam

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/logger"
)

type Gateway struct {
	rdb       *db.Database
	spamdAddr string
}

func New(rdb *db.Database, spamdAddr string) *Gateway {
	return &Gateway{rdb: rdb, spamdAddr: spamdAddr}
}

// IsBlocked reports whether the user blocked this sender, exactly or by
// domain.
func (g *Gateway) IsBlocked(ctx context.Context, userID int64, sender string) (bool, error) {
	return g.rdb.MatchSenderEntry(ctx, userID, sender, true)
}

// IsTrusted reports whether the user trusts this sender. Trusted senders
// bypass spam classification.
func (g *Gateway) IsTrusted(ctx context.Context, userID int64, sender string) (bool, error) {
	return g.rdb.MatchSenderEntry(ctx, userID, sender, false)
}

// Report records a spam or ham report and applies its mailbox effect: spam
// reports move the message into the spam folder, ham reports back to the
// inbox. Learning happens asynchronously.
func (g *Gateway) Report(ctx context.Context, userID, emailID int64, reportType string) error {
	if reportType != "spam" && reportType != "ham" {
		return fmt.Errorf("invalid report type %q", reportType)
	}
	email, err := g.rdb.GetEmail(ctx, userID, emailID)
	if err != nil {
		return err
	}

	reportID, err := g.rdb.CreateSpamReport(ctx, emailID, userID, reportType)
	if err != nil {
		return err
	}

	targetRole := consts.FolderSpam
	if reportType == "ham" {
		targetRole = consts.FolderInbox
	}
	folder, err := g.rdb.GetFolderByRole(ctx, userID, targetRole)
	if err != nil {
		return err
	}
	if err := g.rdb.MoveToFolder(ctx, userID, emailID, folder.ID); err != nil {
		return err
	}

	if g.spamdAddr != "" {
		go g.learn(reportID, email, reportType)
	}
	return nil
}

// learn feeds the raw message to spamd over the TELL command. Failures only
// log; the report row stays unlearned and can be retried.
func (g *Gateway) learn(reportID int64, email *db.Email, reportType string) {
	raw := rawMessage(email)
	conn, err := net.DialTimeout("tcp", g.spamdAddr, 10*time.Second)
	if err != nil {
		logger.Warn("spamd unreachable", "addr", g.spamdAddr, "error", err)
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	fmt.Fprintf(conn, "TELL SPAMC/1.5\r\n")
	fmt.Fprintf(conn, "Content-length: %d\r\n", len(raw))
	fmt.Fprintf(conn, "Message-class: %s\r\n", reportType)
	fmt.Fprintf(conn, "Set: local\r\n")
	fmt.Fprintf(conn, "\r\n")
	if _, err := conn.Write(raw); err != nil {
		logger.Warn("spamd learn failed", "error", err)
		return
	}

	reply := make([]byte, 256)
	n, _ := conn.Read(reply)
	if !strings.Contains(string(reply[:n]), "EX_OK") {
		logger.Warn("spamd rejected report", "report_id", reportID, "reply", strings.TrimSpace(string(reply[:n])))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.rdb.MarkReportLearned(ctx, reportID); err != nil {
		logger.Error("failed to mark report learned", "report_id", reportID, "error", err)
	}
}

// rawMessage rebuilds an approximation of the original message for the
// learner when the raw bytes were not retained on disk.
func rawMessage(email *db.Email) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", email.Sender)
	fmt.Fprintf(&b, "Subject: %s\r\n", email.Subject)
	if email.MessageID != nil {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", *email.MessageID)
	}
	fmt.Fprintf(&b, "\r\n%s\r\n", email.BodyText)
	return []byte(b.String())
}
