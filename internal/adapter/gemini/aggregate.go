package gemini

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/nanlv11/business-gemini-pool/internal/adapter/observability"
	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// Aggregator folds a drained assist stream into a ChatResult: concatenated
// non-thought text plus every image artifact recoverable from the envelopes,
// persisted through the artifact store as they are found.
type Aggregator struct {
	client *Client
	store  domain.ArtifactStore
}

// NewAggregator wires the aggregator to the vendor client it uses for
// deferred file-reference downloads.
func NewAggregator(c *Client, store domain.ArtifactStore) *Aggregator {
	return &Aggregator{client: c, store: store}
}

// pendingFile is a content.file reference that cannot be resolved until the
// stream is drained: the authoritative session path may only be knowable
// from the per-file metadata lookup.
type pendingFile struct {
	fileID   string
	mimeType string
	name     string
}

// Aggregate never fails: a body that does not parse as an envelope array
// yields an empty result, and per-artifact errors are logged and skipped
// without invalidating the collected text.
func (a *Aggregator) Aggregate(ctx domain.Context, token, teamID string, raw []byte) domain.ChatResult {
	var result domain.ChatResult

	var envelopes []envelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		slog.Warn("malformed assist stream, returning empty result", slog.Any("error", err), slog.Int("bytes", len(raw)))
		return result
	}

	var (
		texts       []string
		pending     []pendingFile
		lastSession string
	)

	for _, env := range envelopes {
		sar := env.StreamAssistResponse
		if sar == nil {
			continue
		}
		if sar.SessionInfo.Session != "" {
			lastSession = sar.SessionInfo.Session
		}

		for _, gi := range sar.GeneratedImages {
			a.saveGenerated(gi, &result)
		}
		if sar.Answer == nil {
			continue
		}
		for _, gi := range sar.Answer.GeneratedImages {
			a.saveGenerated(gi, &result)
		}
		for _, rep := range sar.Answer.Replies {
			for _, gi := range rep.GeneratedImages {
				a.saveGenerated(gi, &result)
			}

			gc := rep.GroundedContent
			if f := gc.Content.File; f != nil && f.FileID != "" {
				mime := f.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				pending = append(pending, pendingFile{fileID: f.FileID, mimeType: mime, name: f.Name})
			}

			a.saveInline(gc.Content.InlineData, &result)
			a.saveInline(gc.InlineData, &result)

			for _, att := range rep.Attachments {
				a.saveAttachment(att, &result)
			}
			for _, att := range gc.Attachments {
				a.saveAttachment(att, &result)
			}
			for _, att := range gc.Content.Attachments {
				a.saveAttachment(att, &result)
			}

			if gc.Content.Text != "" && !gc.Content.Thought {
				texts = append(texts, gc.Content.Text)
			}
		}
	}

	if len(pending) > 0 && lastSession != "" {
		a.resolvePending(ctx, token, teamID, lastSession, pending, &result)
	}

	result.Text = strings.Join(texts, "")
	return result
}

// resolvePending downloads file-referenced artifacts after the stream is
// drained. The metadata listing is fetched once per aggregation; a file
// without a metadata match falls back to the last-seen session path.
func (a *Aggregator) resolvePending(ctx domain.Context, token, teamID, lastSession string, pending []pendingFile, result *domain.ChatResult) {
	metadata, err := a.client.ListSessionFileMetadata(ctx, token, lastSession, teamID)
	if err != nil {
		slog.Warn("file metadata lookup failed, using last-seen session", slog.Any("error", err), slog.Int("pending", len(pending)))
		metadata = nil
	}

	for _, pf := range pending {
		sessionPath := lastSession
		name := pf.name
		if meta, ok := metadata[pf.fileID]; ok {
			if name == "" {
				name = meta.Name
			}
			if meta.Session != "" {
				sessionPath = meta.Session
			}
		}

		var data []byte
		op := func() error {
			var derr error
			data, derr = a.client.DownloadFile(ctx, token, sessionPath, pf.fileID)
			return derr
		}
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(500*time.Millisecond),
			backoff.WithMaxInterval(5*time.Second),
		), 2), ctx)
		if err := backoff.Retry(op, bo); err != nil {
			slog.Warn("artifact download failed, skipping", slog.String("file_id", pf.fileID), slog.Any("error", err))
			continue
		}

		filename, err := a.store.Save(data, pf.mimeType, name)
		if err != nil {
			slog.Warn("artifact save failed, skipping", slog.String("file_id", pf.fileID), slog.Any("error", err))
			continue
		}
		result.Images = append(result.Images, domain.ImageArtifact{
			MIMEType: pf.mimeType,
			FileName: filename,
			FileID:   pf.fileID,
			Name:     name,
		})
		observability.ArtifactsSavedTotal.WithLabelValues("file_ref").Inc()
	}
}

func (a *Aggregator) saveGenerated(gi generatedImage, result *domain.ChatResult) {
	if gi.Image == nil || gi.Image.BytesBase64Encoded == "" {
		return
	}
	mime := gi.Image.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	a.saveDecoded(gi.Image.BytesBase64Encoded, mime, "", "generated", result)
}

func (a *Aggregator) saveInline(id *inlineData, result *domain.ChatResult) {
	if id == nil || id.Data == "" {
		return
	}
	mime := id.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	a.saveDecoded(id.Data, mime, "", "inline", result)
}

// saveAttachment persists an attachment entry, but only image/* ones; the
// attachment's own name wins when it carries one.
func (a *Aggregator) saveAttachment(att attachment, result *domain.ChatResult) {
	if !strings.HasPrefix(att.MIMEType, "image/") {
		return
	}
	data := att.Data
	if data == "" {
		data = att.BytesBase64Encoded
	}
	if data == "" {
		return
	}
	a.saveDecoded(data, att.MIMEType, att.Name, "attachment", result)
}

func (a *Aggregator) saveDecoded(b64, mimeType, name, source string, result *domain.ChatResult) {
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		slog.Warn("artifact base64 decode failed, skipping", slog.String("source", source), slog.Any("error", err))
		return
	}
	filename, err := a.store.Save(decoded, mimeType, name)
	if err != nil {
		slog.Warn("artifact save failed, skipping", slog.String("source", source), slog.Any("error", err))
		return
	}
	result.Images = append(result.Images, domain.ImageArtifact{MIMEType: mimeType, FileName: filename, Name: name})
	observability.ArtifactsSavedTotal.WithLabelValues(source).Inc()
}
