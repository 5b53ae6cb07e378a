package httpapi

import (
	"encoding/base64"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/pkg/metrics"
	"github.com/plumemail/plume/sender"
)

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.rdb.ListFolders(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID *int64 `json:"parent_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "folder name is required", nil)
		return
	}
	folder, err := s.rdb.CreateFolder(r.Context(), claimsFrom(r).UserID, req.Name, req.ParentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	folderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid folder id", err)
		return
	}
	if err := s.rdb.DeleteFolder(r.Context(), claimsFrom(r).UserID, folderID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	folderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid folder id", err)
		return
	}
	// ownership check before listing
	if _, err := s.rdb.GetFolderByID(r.Context(), claims.UserID, folderID); err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	opts := db.ListEmailsOptions{
		FolderID: folderID,
		Page:     queryInt(q.Get("page"), 1),
		Limit:    queryInt(q.Get("limit"), 50),
		Mailbox:  q.Get("mailbox"),
	}
	if v := q.Get("is_read"); v != "" {
		b := v == "true"
		opts.IsRead = &b
	}
	if v := q.Get("is_starred"); v != "" {
		b := v == "true"
		opts.IsStarred = &b
	}

	emails, total, err := s.rdb.ListEmails(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"emails": emails,
		"total":  total,
		"page":   opts.Page,
		"limit":  opts.Limit,
	})
}

func (s *Server) handleSearchEmails(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required", nil)
		return
	}
	limit := queryInt(r.URL.Query().Get("limit"), 50)
	emails, err := s.rdb.SearchEmails(r.Context(), claimsFrom(r).UserID, query, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": emails})
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	emailID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email id", err)
		return
	}
	email, err := s.rdb.GetEmail(r.Context(), claims.UserID, emailID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	attachments, err := s.rdb.ListAttachments(r.Context(), email.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":       email,
		"attachments": attachments,
	})
}

type sendRequest struct {
	To          []string `json:"to"`
	Cc          []string `json:"cc,omitempty"`
	Bcc         []string `json:"bcc,omitempty"`
	Subject     string   `json:"subject"`
	BodyText    string   `json:"body_text,omitempty"`
	BodyHTML    string   `json:"body_html,omitempty"`
	InReplyTo   string   `json:"in_reply_to,omitempty"`
	References  string   `json:"references,omitempty"`
	Track       bool     `json:"track"`
	IsDraft     bool     `json:"is_draft"`
	ScheduledAt *string  `json:"scheduled_at,omitempty"`
	Attachments []struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		Content     string `json:"content"` // base64
	} `json:"attachments,omitempty"`
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	claims := claimsFrom(r)
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.To) == 0 && !req.IsDraft {
		writeError(w, http.StatusBadRequest, "at least one recipient is required", nil)
		return
	}

	opts := &sender.ComposeOptions{
		Subject:    req.Subject,
		BodyText:   req.BodyText,
		BodyHTML:   req.BodyHTML,
		InReplyTo:  req.InReplyTo,
		References: req.References,
		Track:      req.Track,
		IsDraft:    req.IsDraft,
	}
	for _, addr := range req.To {
		opts.Recipients = append(opts.Recipients, db.Recipient{Kind: "to", Email: addr})
	}
	for _, addr := range req.Cc {
		opts.Recipients = append(opts.Recipients, db.Recipient{Kind: "cc", Email: addr})
	}
	for _, addr := range req.Bcc {
		opts.Recipients = append(opts.Recipients, db.Recipient{Kind: "bcc", Email: addr})
	}
	if req.ScheduledAt != nil {
		at, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "scheduled_at must be RFC 3339", err)
			return
		}
		if at.Before(time.Now()) {
			writeError(w, http.StatusBadRequest, "scheduled_at must be in the future", nil)
			return
		}
		opts.ScheduledAt = &at
	}
	for _, a := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, "attachment content must be base64", err)
			return
		}
		opts.Attachments = append(opts.Attachments, sender.OutgoingAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     content,
		})
	}

	user, err := s.rdb.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	emailID, err := s.sender.Send(r.Context(), user, opts)
	if err != nil {
		writeStoreError(w, err)
		observeRequest("send", start, false)
		return
	}
	observeRequest("send", start, true)
	writeJSON(w, http.StatusCreated, map[string]any{"email_id": emailID})
}

func (s *Server) handleResendEmail(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	emailID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email id", err)
		return
	}
	user, err := s.rdb.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.sender.Resend(r.Context(), user, emailID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resent"})
}

type patchEmailRequest struct {
	IsRead       *bool   `json:"is_read,omitempty"`
	IsStarred    *bool   `json:"is_starred,omitempty"`
	SnoozedUntil *string `json:"snoozed_until,omitempty"` // RFC 3339, empty string clears
	FolderID     *int64  `json:"folder_id,omitempty"`
	Trash        bool    `json:"trash,omitempty"`
}

func (s *Server) handlePatchEmail(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	emailID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email id", err)
		return
	}
	var req patchEmailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	if req.IsRead != nil {
		if err := s.rdb.SetRead(ctx, claims.UserID, emailID, *req.IsRead); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.IsStarred != nil {
		if err := s.rdb.SetStarred(ctx, claims.UserID, emailID, *req.IsStarred); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.SnoozedUntil != nil {
		var until *time.Time
		if *req.SnoozedUntil != "" {
			at, err := time.Parse(time.RFC3339, *req.SnoozedUntil)
			if err != nil {
				writeError(w, http.StatusBadRequest, "snoozed_until must be RFC 3339", err)
				return
			}
			until = &at
		}
		if err := s.rdb.Snooze(ctx, claims.UserID, emailID, until); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.FolderID != nil {
		if err := s.rdb.MoveToFolder(ctx, claims.UserID, emailID, *req.FolderID); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.Trash {
		if err := s.rdb.Trash(ctx, claims.UserID, emailID); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handlePurgeEmail(w http.ResponseWriter, r *http.Request) {
	emailID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email id", err)
		return
	}
	if err := s.rdb.Purge(r.Context(), claimsFrom(r).UserID, emailID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	attachmentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attachment id", err)
		return
	}
	attachment, err := s.rdb.GetAttachment(r.Context(), claimsFrom(r).UserID, attachmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	f, err := os.Open(attachment.FilePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "attachment file missing", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", attachment.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+attachment.Filename+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(attachment.Size, 10))
	http.ServeContent(w, r, attachment.Filename, attachment.CreatedAt, f)
}

func (s *Server) handleTrackingStats(w http.ResponseWriter, r *http.Request) {
	emailID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email id", err)
		return
	}
	stats, err := s.rdb.GetTrackingStats(r.Context(), claimsFrom(r).UserID, emailID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSpamReport(w http.ResponseWriter, r *http.Request) {
	emailID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email id", err)
		return
	}
	var req struct {
		Type string `json:"type"` // spam or ham
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.spam.Report(r.Context(), claimsFrom(r).UserID, emailID, req.Type); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reported"})
}

// trackingGIF is a 1x1 transparent GIF.
var trackingGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// handleTrackOpen records an open and always answers with the pixel, no
// matter whether the id resolves. A sender probing pixel ids learns nothing.
func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	if pixelID, err := uuid.Parse(muxVar(r, "pixel")); err == nil {
		ip, _ := splitHost(r.RemoteAddr)
		if err := s.rdb.RecordOpen(r.Context(), pixelID, ip, r.UserAgent()); err == nil {
			metrics.TrackingOpens.Inc()
		}
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Content-Length", strconv.Itoa(len(trackingGIF)))
	w.WriteHeader(http.StatusOK)
	w.Write(trackingGIF)
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
