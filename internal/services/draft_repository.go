package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/kickoff/backend/internal/integrations/airtable"
	"github.com/huangang/kickoff/backend/internal/models"
	"gorm.io/gorm"
)

// DraftRepository persists drafts. Lookups return an error wrapping
// ErrNotFound for unknown ids and tokens.
type DraftRepository interface {
	Create(ctx context.Context, d *models.Draft) error
	Get(ctx context.Context, id string) (*models.Draft, error)
	GetByShareToken(ctx context.Context, token string) (*models.Draft, error)
	ShareTokenExists(ctx context.Context, token string) (bool, error)
	Update(ctx context.Context, d *models.Draft) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID uint) ([]models.Draft, error)
}

type GormDraftRepository struct {
	db *gorm.DB
}

func NewGormDraftRepository(db *gorm.DB) *GormDraftRepository {
	return &GormDraftRepository{db: db}
}

func (r *GormDraftRepository) Create(ctx context.Context, d *models.Draft) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *GormDraftRepository) first(ctx context.Context, query string, arg string) (*models.Draft, error) {
	var d models.Draft
	err := r.db.WithContext(ctx).Where(query, arg).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("draft: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *GormDraftRepository) Get(ctx context.Context, id string) (*models.Draft, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormDraftRepository) GetByShareToken(ctx context.Context, token string) (*models.Draft, error) {
	return r.first(ctx, "share_token = ?", token)
}

func (r *GormDraftRepository) ShareTokenExists(ctx context.Context, token string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Draft{}).Where("share_token = ?", token).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormDraftRepository) Update(ctx context.Context, d *models.Draft) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *GormDraftRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Draft{}).Error
}

func (r *GormDraftRepository) ListByOwner(ctx context.Context, ownerID uint) ([]models.Draft, error) {
	var drafts []models.Draft
	if err := r.db.WithContext(ctx).Where("created_by = ?", ownerID).Order("updated_at DESC").Find(&drafts).Error; err != nil {
		return nil, err
	}
	return drafts, nil
}

// RegistryDraftRepository keeps drafts as rows of the registry Drafts table,
// so reviewers without an account on this service can see them in the base.
type RegistryDraftRepository struct {
	registry RegistryAPI
	table    string
	now      func() time.Time
}

func NewRegistryDraftRepository(registry RegistryAPI, table string) *RegistryDraftRepository {
	return &RegistryDraftRepository{registry: registry, table: table, now: time.Now}
}

func (r *RegistryDraftRepository) Create(ctx context.Context, d *models.Draft) error {
	now := r.now()
	d.CreatedAt, d.UpdatedAt = now, now
	fields, err := draftFields(d)
	if err != nil {
		return err
	}
	rec, err := r.registry.CreateRecord(ctx, r.table, fields)
	if err != nil {
		return remote(models.PlatformAirtable, err)
	}
	d.RecordID = rec.ID
	return nil
}

// find returns the single record whose field equals value. The formula does
// the filtering remotely; the comparison here guards against loose matches.
func (r *RegistryDraftRepository) find(ctx context.Context, field, value string) (*airtable.Record, error) {
	records, err := r.registry.ListRecords(ctx, r.table, airtable.ListOptions{
		Formula:    airtable.EqualsFormula(field, value),
		MaxRecords: 2,
	})
	if err != nil {
		return nil, remote(models.PlatformAirtable, err)
	}
	for i := range records {
		if records[i].StringField(field) == value {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("draft: %w", ErrNotFound)
}

func (r *RegistryDraftRepository) Get(ctx context.Context, id string) (*models.Draft, error) {
	rec, err := r.find(ctx, airtable.FieldDraftID, id)
	if err != nil {
		return nil, err
	}
	return draftFromRecord(rec)
}

func (r *RegistryDraftRepository) GetByShareToken(ctx context.Context, token string) (*models.Draft, error) {
	rec, err := r.find(ctx, airtable.FieldShareToken, token)
	if err != nil {
		return nil, err
	}
	return draftFromRecord(rec)
}

func (r *RegistryDraftRepository) ShareTokenExists(ctx context.Context, token string) (bool, error) {
	_, err := r.find(ctx, airtable.FieldShareToken, token)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *RegistryDraftRepository) recordID(ctx context.Context, d *models.Draft) (string, error) {
	if d.RecordID != "" {
		return d.RecordID, nil
	}
	rec, err := r.find(ctx, airtable.FieldDraftID, d.ID)
	if err != nil {
		return "", err
	}
	d.RecordID = rec.ID
	return rec.ID, nil
}

func (r *RegistryDraftRepository) Update(ctx context.Context, d *models.Draft) error {
	recordID, err := r.recordID(ctx, d)
	if err != nil {
		return err
	}
	d.UpdatedAt = r.now()
	fields, err := draftFields(d)
	if err != nil {
		return err
	}
	if _, err := r.registry.UpdateRecord(ctx, r.table, recordID, fields); err != nil {
		return remote(models.PlatformAirtable, err)
	}
	return nil
}

func (r *RegistryDraftRepository) Delete(ctx context.Context, id string) error {
	rec, err := r.find(ctx, airtable.FieldDraftID, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return remote(models.PlatformAirtable, r.registry.DeleteRecord(ctx, r.table, rec.ID))
}

func (r *RegistryDraftRepository) ListByOwner(ctx context.Context, ownerID uint) ([]models.Draft, error) {
	records, err := r.registry.ListRecords(ctx, r.table, airtable.ListOptions{
		Formula: fmt.Sprintf("{%s} = %d", airtable.FieldCreatedBy, ownerID),
	})
	if err != nil {
		return nil, remote(models.PlatformAirtable, err)
	}

	drafts := make([]models.Draft, 0, len(records))
	for i := range records {
		d, err := draftFromRecord(&records[i])
		if err != nil {
			return nil, err
		}
		if d.CreatedBy == ownerID {
			drafts = append(drafts, *d)
		}
	}
	sortDraftsByUpdated(drafts)
	return drafts, nil
}

func draftFields(d *models.Draft) (map[string]interface{}, error) {
	snapshot, err := json.Marshal(d.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	sub := d.Snapshot.Data()
	return map[string]interface{}{
		airtable.FieldDraftID:       d.ID,
		airtable.FieldName:          sub.TrimmedName(),
		airtable.FieldShareToken:    d.ShareToken,
		airtable.FieldSnapshot:      string(snapshot),
		airtable.FieldStatus:        string(d.Status),
		airtable.FieldApproverEmail: d.ApproverEmail,
		airtable.FieldApproverNotes: d.ApproverNotes,
		airtable.FieldCreatedBy:     d.CreatedBy,
		airtable.FieldOwnerEmail:    d.OwnerEmail,
		airtable.FieldSubmittedAt:   formatTime(d.SubmittedAt),
		airtable.FieldDecidedAt:     formatTime(d.DecidedAt),
		airtable.FieldProvisionedAt: formatTime(d.ProvisionJobAt),
		airtable.FieldUpdatedAt:     d.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func draftFromRecord(rec *airtable.Record) (*models.Draft, error) {
	status, err := models.ParseDraftStatus(rec.StringField(airtable.FieldStatus))
	if err != nil {
		return nil, fmt.Errorf("draft record %s: %w", rec.ID, err)
	}
	d := &models.Draft{
		ID:             rec.StringField(airtable.FieldDraftID),
		RecordID:       rec.ID,
		ShareToken:     rec.StringField(airtable.FieldShareToken),
		Status:         status,
		ApproverEmail:  rec.StringField(airtable.FieldApproverEmail),
		ApproverNotes:  rec.StringField(airtable.FieldApproverNotes),
		OwnerEmail:     rec.StringField(airtable.FieldOwnerEmail),
		SubmittedAt:    parseTime(rec.StringField(airtable.FieldSubmittedAt)),
		DecidedAt:      parseTime(rec.StringField(airtable.FieldDecidedAt)),
		ProvisionJobAt: parseTime(rec.StringField(airtable.FieldProvisionedAt)),
	}
	if raw := rec.StringField(airtable.FieldSnapshot); raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.Snapshot); err != nil {
			return nil, fmt.Errorf("draft record %s: invalid snapshot: %w", rec.ID, err)
		}
	}
	switch v := rec.Fields[airtable.FieldCreatedBy].(type) {
	case float64:
		d.CreatedBy = uint(v)
	case uint:
		d.CreatedBy = v
	}
	if t := parseTime(rec.CreatedTime); t != nil {
		d.CreatedAt = *t
	}
	if t := parseTime(rec.StringField(airtable.FieldUpdatedAt)); t != nil {
		d.UpdatedAt = *t
	}
	return d, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
