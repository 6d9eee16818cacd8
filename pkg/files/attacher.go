package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/repositories/derivative"
	"github.com/Ramsey-B/fern/internal/repositories/entry"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Attacher downloads remote files and attaches them to a resource as file
// set members. Each download is tracked as an entry derivative so re-runs
// can tell which files are already attached.
type Attacher struct {
	fetcher     Fetcher
	entries     *entry.Repository
	derivatives *derivative.Repository
	resources   *graph.ResourceService
	memberships *graph.MembershipService
	logger      ectologger.Logger
}

// NewAttacher creates a new attacher
func NewAttacher(
	fetcher Fetcher,
	entries *entry.Repository,
	derivatives *derivative.Repository,
	resources *graph.ResourceService,
	memberships *graph.MembershipService,
	logger ectologger.Logger,
) *Attacher {
	return &Attacher{
		fetcher:     fetcher,
		entries:     entries,
		derivatives: derivatives,
		resources:   resources,
		memberships: memberships,
		logger:      logger,
	}
}

// Attach downloads each URL and attaches it to the resource as a file set.
// With ReplaceFiles the existing file sets are removed first; with
// UpdateFiles a file set sharing a source URL is overwritten in place;
// otherwise already-attached URLs are skipped.
func (a *Attacher) Attach(ctx context.Context, resource *graph.Resource, urls []string, policy AttachPolicy) error {
	ctx, span := tracing.StartSpan(ctx, "files.Attacher.Attach")
	defer span.End()

	tenantID := resource.TenantID
	log := a.logger.WithContext(ctx).WithFields(map[string]any{
		"resource_id": resource.ID,
		"urls":        len(urls),
	})

	// Derivative bookkeeping hangs off the entry that staged this resource.
	// A resource without one (direct creation, export round-trips) still gets
	// its files, just untracked.
	var e *models.Entry
	if len(resource.AlternateIDs) > 0 {
		var err error
		e, err = a.entries.FindByIdentifier(ctx, tenantID, resource.AlternateIDs[0])
		if err != nil {
			return err
		}
	}

	existing := make(map[string]models.EntryDerivative)
	if e != nil {
		rows, err := a.derivatives.ListByEntry(ctx, tenantID, e.ID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			existing[row.SourceURL] = row
		}
	}

	if policy.ReplaceFiles {
		for _, row := range existing {
			if row.FileSetID == nil {
				continue
			}
			if err := a.resources.Delete(ctx, tenantID, *row.FileSetID); err != nil {
				return err
			}
		}
	}

	for i, fileURL := range urls {
		prior, attached := existing[fileURL]
		if attached && prior.FileSetID != nil && !policy.ReplaceFiles && !policy.UpdateFiles {
			log.WithFields(map[string]any{"url": fileURL}).Debug("File already attached, skipping")
			continue
		}

		fileSetID := uuid.New().String()
		if attached && prior.FileSetID != nil && policy.UpdateFiles {
			// Reuse the node id so the file set updates in place
			fileSetID = *prior.FileSetID
		}

		byteSize, checksum, err := a.download(ctx, fileURL)
		if err != nil {
			return err
		}

		fileName := fileNameFromURL(fileURL)
		fileSet := &graph.Resource{
			ID:       fileSetID,
			TenantID: tenantID,
			Class:    graph.ClassFileSet,
			Properties: map[string]any{
				"label":      fileName,
				"import_url": fileURL,
				"checksum":   checksum,
				"byte_size":  byteSize,
			},
		}
		if err := a.resources.Save(ctx, fileSet); err != nil {
			return err
		}

		if err := a.memberships.AddMember(ctx, tenantID, resource.ID, fileSetID, i); err != nil {
			return err
		}

		if e != nil {
			_, err = a.derivatives.Record(ctx, tenantID, models.EntryDerivative{
				EntryID:   e.ID,
				SourceURL: fileURL,
				FileName:  fileName,
				ByteSize:  byteSize,
				Checksum:  checksum,
				FileSetID: &fileSetID,
			})
			if err != nil {
				return err
			}
		}

		log.WithFields(map[string]any{
			"url":         fileURL,
			"file_set_id": fileSetID,
			"byte_size":   byteSize,
		}).Debug("Attached file")
	}

	return nil
}

// download streams the file, returning its size and sha256
func (a *Attacher) download(ctx context.Context, fileURL string) (int64, string, error) {
	body, err := a.fetcher.Fetch(ctx, fileURL)
	if err != nil {
		return 0, "", err
	}
	defer body.Close()

	hasher := sha256.New()
	byteSize, err := io.Copy(hasher, body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read %s: %w", fileURL, err)
	}
	return byteSize, hex.EncodeToString(hasher.Sum(nil)), nil
}

func fileNameFromURL(fileURL string) string {
	parsed, err := url.Parse(fileURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return fileURL
	}
	return path.Base(parsed.Path)
}
