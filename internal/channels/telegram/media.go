package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
)

// downloadAttachments pulls every attachment on a message into the local
// media directory and returns the paths. Failures are logged per file; one
// broken download must not lose the message text.
func (c *Channel) downloadAttachments(ctx context.Context, msg *telego.Message) []string {
	if c.downloader == nil {
		return nil
	}

	type item struct {
		fileID string
		name   string
		mime   string
	}
	var items []item

	if len(msg.Photo) > 0 {
		// Telegram sends multiple sizes; the last is the largest.
		best := msg.Photo[len(msg.Photo)-1]
		items = append(items, item{fileID: best.FileID, name: "photo.jpg", mime: "image/jpeg"})
	}
	if msg.Document != nil {
		items = append(items, item{
			fileID: msg.Document.FileID,
			name:   msg.Document.FileName,
			mime:   msg.Document.MimeType,
		})
	}
	if msg.Voice != nil {
		items = append(items, item{fileID: msg.Voice.FileID, name: "voice.ogg", mime: msg.Voice.MimeType})
	}
	if msg.Audio != nil {
		items = append(items, item{
			fileID: msg.Audio.FileID,
			name:   msg.Audio.FileName,
			mime:   msg.Audio.MimeType,
		})
	}
	if msg.Video != nil {
		items = append(items, item{
			fileID: msg.Video.FileID,
			name:   msg.Video.FileName,
			mime:   msg.Video.MimeType,
		})
	}

	var paths []string
	for _, it := range items {
		path, err := c.downloadFile(ctx, it.fileID, it.name, it.mime)
		if err != nil {
			slog.Warn("telegram media download failed", "file_id", it.fileID, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func (c *Channel) downloadFile(ctx context.Context, fileID, name, mimeType string) (string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.cfg.Token, file.FilePath)
	return c.downloader.DownloadURL(ctx, url, name, mimeType)
}
