package pipeline

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/imageproc"
	"github.com/cuongbtq/brandgen/internal/notify"
	"github.com/cuongbtq/brandgen/internal/synthesis"
)

// runMeme makes one synthesis call, conditioned on the reference image when
// one was supplied and can be fetched
func (d *Dispatcher) runMeme(ctx context.Context, st State, job domain.MemeJob) (State, error) {
	quality := job.Quality
	if quality == "" {
		quality = domain.QualityStandard
	}

	return d.execute(ctx, st, plan{
		prepare: func(ctx context.Context) ([]synthesis.Request, error) {
			var refs []synthesis.Image
			if job.ReferenceImageURL != "" {
				data, err := d.store.Download(ctx, job.ReferenceImageURL)
				if err != nil {
					d.logger.Warn("Failed to fetch meme reference, continuing without it",
						slog.String("job_id", st.JobID),
						slog.Any("error", err),
					)
				} else {
					refs = append(refs, synthesis.Image{Data: data, MIMEType: mimeOf(data)})
				}
			}

			prompt, err := synthesis.RenderPrompt("meme", synthesis.MemePromptData{
				Prompt:       job.Prompt,
				TopText:      job.TopText,
				BottomText:   job.BottomText,
				Quality:      quality,
				HasReference: len(refs) > 0,
			})
			if err != nil {
				return nil, err
			}
			return []synthesis.Request{{Prompt: prompt, References: refs}}, nil
		},
		process: func(data []byte) ([]byte, string, error) {
			if quality == domain.QualityHD {
				out, err := imageproc.Fit(data, d.cfg.MaxEdge, d.cfg.MaxEdge, imageproc.FormatPNG)
				return out, imageproc.FormatPNG, err
			}
			out, err := imageproc.Fit(data, d.cfg.MaxEdge/2, d.cfg.MaxEdge/2, imageproc.FormatJPEG)
			return out, imageproc.FormatJPEG, err
		},
		settlement: flatSettlement,
		metadata:   map[string]any{"quality": quality, "has_reference": job.ReferenceImageURL != ""},
		deliver: func(ctx context.Context, st State) error {
			return d.messenger.SendMessage(ctx, st.Envelope.ChatID, memeMessage(st.Charge, st.Envelope.UseFreeGeneration), notify.Options{
				ImageURLs: st.URLs(),
				Buttons:   []notify.Button{{Label: "Another meme", Action: "meme"}},
			})
		},
	})
}

// mimeOf sniffs the encoded format of a reference image
func mimeOf(data []byte) string {
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return imageproc.ContentType(imageproc.FormatJPEG)
	}
	return imageproc.ContentType(imageproc.FormatPNG)
}
