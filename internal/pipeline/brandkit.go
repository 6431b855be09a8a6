package pipeline

import (
	"context"
	"strings"

	"github.com/cuongbtq/brandgen/internal/derived"
	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/ledger"
	"github.com/cuongbtq/brandgen/internal/notify"
)

// runPackage builds a derived asset package from a base image. The
// settlement marker is keyed on the base image so one image settles once.
func (d *Dispatcher) runPackage(ctx context.Context, st State, job domain.PackageJob) (State, error) {
	name := strings.TrimSpace(job.DisplayName)
	if name == "" {
		name = strings.TrimSpace(job.Prompt)
	}

	settlement := func(st State) ledger.Settlement {
		return ledger.Settlement{
			Marker: derived.SettlementMarker(job.BaseImageURL),
			Cost:   st.Envelope.Cost,
		}
	}

	return d.run(ctx, st,
		d.validate(),
		step{stage: StageSynthesizing, run: func(ctx context.Context, st State) (State, error) {
			pkg, err := d.packager.Build(ctx, derived.Input{BaseImageURL: job.BaseImageURL, DisplayName: name})
			if err != nil {
				return st, err
			}
			st.Package = pkg
			return st, nil
		}},
		step{stage: StageStoring, run: func(ctx context.Context, st State) (State, error) {
			st.Charge = settlement(st).Cost
			d.saveRecord(ctx, st, st.Package.URLs(), map[string]any{
				"base_image_url": job.BaseImageURL,
				"display_name":   name,
				"assets":         len(st.Package.Assets),
				"icon_fallback":  st.Package.IconFallback,
			})
			return st, nil
		}},
		d.settle(settlement),
		step{stage: StageNotifying, run: func(ctx context.Context, st State) (State, error) {
			return st, d.messenger.SendMessage(ctx, st.Envelope.ChatID, packageMessage(name, st.Package), notify.Options{
				DocumentURL: st.Package.ArchiveURL,
				ImageURLs:   previewURLs(st.Package),
			})
		}},
	)
}

// previewURLs picks the icon set for the delivery message
func previewURLs(pkg *derived.Package) []string {
	var urls []string
	for _, a := range pkg.Assets {
		if a.Kind == domain.AssetKindIcon {
			urls = append(urls, a.StorageURL)
		}
	}
	return urls
}
