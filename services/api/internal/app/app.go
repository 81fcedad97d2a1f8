package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"aluastro/internal/util"
	"aluastro/pkg/domain"
	"aluastro/pkg/notify"
	"aluastro/pkg/schema"
	"aluastro/pkg/storage"
	"aluastro/pkg/store"
	"aluastro/services/api/internal/intake"
)

// SubmittedMessage is returned to the applicant on success.
const SubmittedMessage = "Application received successfully."

const (
	projectsPageSize    = 12
	inspirationPageSize = 24
	maxPageSize         = 100
)

// Config holds the collaborators of the application core.
type Config struct {
	Store    store.Store
	Objects  storage.ObjectStore
	Notifier notify.Notifier
	Now      func() time.Time
}

// App orchestrates application submissions and the listing stubs.
type App struct {
	store    store.Store
	objects  storage.ObjectStore
	notifier notify.Notifier
	now      func() time.Time
}

// New validates the collaborators and constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("document store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		store:    cfg.Store,
		objects:  cfg.Objects,
		notifier: notifier,
		now:      now,
	}, nil
}

// Submit validates in, stores the optional CV and persists the application.
// Validation failures return *schema.ValidationError before any write.
// Store failures return *StoreError. When the record insert fails after the
// CV was stored, the object is removed on a best-effort basis.
func (a *App) Submit(ctx context.Context, in schema.Input, cv *intake.Upload) (domain.Application, error) {
	application, err := schema.Validate(in)
	if err != nil {
		return domain.Application{}, err
	}
	logger := util.LoggerFromContext(ctx)

	var key string
	if cv != nil {
		key = buildStorageKey(a.now(), cv.Filename)
		if err := a.objects.Put(ctx, key, bytes.NewReader(cv.Data), cv.Size(), cv.ContentType); err != nil {
			return domain.Application{}, &StoreError{Op: "save cv", Err: err}
		}
		application.CVPath = &key
		application.Attachment = &domain.AttachmentMeta{
			OriginalFilename: cv.Filename,
			ContentType:      cv.ContentType,
			SizeBytes:        cv.Size(),
		}
	}

	saved, err := a.store.AddApplication(ctx, application)
	if err != nil {
		if key != "" {
			// detached so a canceled request still gets its orphan removed
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if delErr := a.objects.Delete(cleanupCtx, key); delErr != nil {
				logger.Warn("orphaned cv object", "key", key, "err", delErr)
			}
			cancel()
		}
		return domain.Application{}, &StoreError{Op: "save application", Err: err}
	}

	if err := a.notifier.ApplicationSubmitted(ctx, saved); err != nil {
		logger.Warn("application notification failed", "application_id", saved.ID, "err", err)
	}
	logger.Info("application_submitted", "application_id", saved.ID, "has_cv", saved.CVPath != nil)
	return saved, nil
}

// ListProjects returns the project listing. No projects are published yet.
func (a *App) ListProjects(page, pageSize int) domain.Page[domain.Project] {
	page, pageSize = normalizePage(page, pageSize, projectsPageSize)
	return domain.Page[domain.Project]{Items: []domain.Project{}, Page: page, PageSize: pageSize, Total: 0}
}

// ListInspiration returns the inspiration gallery. No media is published yet.
func (a *App) ListInspiration(page, pageSize int) domain.Page[domain.InspirationMedia] {
	page, pageSize = normalizePage(page, pageSize, inspirationPageSize)
	return domain.Page[domain.InspirationMedia]{Items: []domain.InspirationMedia{}, Page: page, PageSize: pageSize, Total: 0}
}

func normalizePage(page, pageSize, defaultSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func buildStorageKey(now time.Time, filename string) string {
	name := sanitizeFilename(filename)
	if name == "" {
		name = "cv"
	}
	return path.Join("cv", fmt.Sprintf("%d-%s-%s", now.UTC().UnixMilli(), util.RandomHex(3), name))
}

// sanitizeFilename drops every character outside [A-Za-z0-9._-].
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}
