package application

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"round-finalizer/internal/db"
	"round-finalizer/internal/logger"
	"round-finalizer/internal/models"
	"round-finalizer/internal/quadratic"
	"round-finalizer/internal/storage"
)

type MetaPtr struct {
	Protocol json.Number `json:"protocol"`
	Pointer  string      `json:"pointer"`
}

// Ref is one application as listed by the round: who applied, its status
// and where its metadata lives.
type Ref struct {
	ApplicationID    string  `json:"id"`
	ProjectID        string  `json:"project"`
	Status           Status  `json:"status"`
	ApplicationIndex int     `json:"applicationIndex"`
	MetaPtr          MetaPtr `json:"metaPtr"`
}

// ParseRefs reads a JSON array of application refs.
func ParseRefs(r io.Reader) ([]Ref, error) {
	var refs []Ref
	if err := json.NewDecoder(r).Decode(&refs); err != nil {
		return nil, fmt.Errorf("decode application list: %w", err)
	}
	for i, ref := range refs {
		if ref.ProjectID == "" {
			return nil, fmt.Errorf("application %d: missing project", i)
		}
		refs[i].ProjectID = quadratic.Normalize(ref.ProjectID)
	}
	return refs, nil
}

// Loader resolves application metadata from content storage.
type Loader struct {
	store storage.Store
	repo  *db.Repository
	log   *logger.Logger
}

func NewLoader(store storage.Store, repo *db.Repository, log *logger.Logger) *Loader {
	return &Loader{store: store, repo: repo, log: log}
}

// Load fetches the metadata of every approved ref.
func (l *Loader) Load(ctx context.Context, refs []Ref) ([]quadratic.ProjectInfo, error) {
	var out []quadratic.ProjectInfo
	for _, ref := range refs {
		if ref.Status != StatusApproved {
			continue
		}
		meta, err := l.fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, quadratic.ProjectInfo{
			ProjectID:     quadratic.Normalize(ref.ProjectID),
			Name:          meta.Project.Title,
			PayoutAddress: quadratic.Normalize(meta.Recipient),
		})
	}
	return out, nil
}

// Import stores every ref of a round, with metadata for the approved ones.
func (l *Loader) Import(ctx context.Context, roundID string, refs []Ref) (int, error) {
	approved, err := l.Load(ctx, refs)
	if err != nil {
		return 0, err
	}
	info := make(map[string]quadratic.ProjectInfo, len(approved))
	for _, p := range approved {
		info[p.ProjectID] = p
	}
	rows := make([]models.Project, 0, len(refs))
	for _, ref := range refs {
		id := quadratic.Normalize(ref.ProjectID)
		p := info[id]
		rows = append(rows, models.Project{
			RoundID:       roundID,
			ProjectID:     id,
			ApplicationID: ref.ApplicationID,
			Name:          p.Name,
			PayoutAddress: p.PayoutAddress,
			Status:        string(ref.Status),
			MetaPointer:   ref.MetaPtr.Pointer,
		})
	}
	if err := l.repo.UpsertProjects(ctx, rows); err != nil {
		return 0, fmt.Errorf("store projects: %w", err)
	}
	l.log.Infow("applications imported", "round", roundID, "total", len(rows), "approved", len(approved))
	return len(rows), nil
}

// Approved returns the stored approved projects of a round.
func Approved(ctx context.Context, repo *db.Repository, roundID string) ([]quadratic.ProjectInfo, error) {
	rows, err := repo.Projects(ctx, roundID, string(StatusApproved))
	if err != nil {
		return nil, fmt.Errorf("load approved projects: %w", err)
	}
	out := make([]quadratic.ProjectInfo, len(rows))
	for i, r := range rows {
		out[i] = quadratic.ProjectInfo{ProjectID: r.ProjectID, Name: r.Name, PayoutAddress: r.PayoutAddress}
	}
	return out, nil
}

func (l *Loader) fetch(ctx context.Context, ref Ref) (Metadata, error) {
	raw, err := l.store.Get(ctx, ref.MetaPtr.Pointer)
	if err != nil {
		return Metadata{}, fmt.Errorf("fetch metadata of %s: %w", ref.ProjectID, err)
	}
	meta, variant, err := Parse(raw)
	if err != nil {
		return Metadata{}, fmt.Errorf("application %s: %w", ref.ProjectID, err)
	}
	l.log.Debugw("application metadata loaded", "project", ref.ProjectID, "variant", variant.String())
	return meta, nil
}
