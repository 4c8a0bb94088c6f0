// Package testing provides test utilities and database setup for package tests
package testing

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

// TestPassword is the plain password of every fixture user
const TestPassword = "TestPass123!"

var seq atomic.Int64

func next() int64 { return seq.Add(1) }

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// NationalEntity returns a seeded national bucket (EMT or Organic)
func (tf *TestFixtures) NationalEntity(name string) (*models.Entity, error) {
	var e models.Entity
	if err := tf.DB.DB.Where("name = ?", name).First(&e).Error; err != nil {
		return nil, fmt.Errorf("failed to find national entity %s: %w", name, err)
	}
	return &e, nil
}

// CreateEntity creates a local entity
func (tf *TestFixtures) CreateEntity(name string) (*models.Entity, error) {
	e := &models.Entity{Name: name, Type: models.EntityTypeLocal, IsActive: true}
	if err := tf.DB.DB.Create(e).Error; err != nil {
		return nil, fmt.Errorf("failed to create entity %s: %w", name, err)
	}
	return e, nil
}

// CreateUser creates an active user with TestPassword
func (tf *TestFixtures) CreateUser(role string, entityID *uint) (*models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	n := next()
	u := &models.User{
		Email:        fmt.Sprintf("%s.%d@example.org", role, n),
		Name:         fmt.Sprintf("%s %d", role, n),
		PasswordHash: string(hashed),
		Role:         role,
		EntityID:     entityID,
		IsActive:     true,
	}
	if err := tf.DB.DB.Create(u).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// CreateUniMapping maps a university to an entity
func (tf *TestFixtures) CreateUniMapping(uniID int64, name string, entityID uint) (*models.UniMapping, error) {
	m := &models.UniMapping{UniID: uniID, UniName: name, EntityID: entityID}
	if err := tf.DB.DB.Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create uni mapping %s: %w", name, err)
	}
	return m, nil
}

// FieldSpec describes a fixture field
type FieldSpec struct {
	Name     string
	Type     string
	Options  string // raw JSON
	Required bool
}

// CreateForm creates a form with the given fields in order
func (tf *TestFixtures) CreateForm(code, formType string, fields ...FieldSpec) (*models.Form, []*models.FormField, error) {
	form := &models.Form{Code: code, Name: "Form " + code, Type: formType}
	if err := tf.DB.DB.Create(form).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create form %s: %w", code, err)
	}

	out := make([]*models.FormField, 0, len(fields))
	for i, spec := range fields {
		f := &models.FormField{
			FormID:     form.ID,
			FieldName:  spec.Name,
			FieldLabel: spec.Name,
			FieldType:  spec.Type,
			IsRequired: spec.Required,
			SortOrder:  i,
		}
		if spec.Options != "" {
			f.FieldOptions = datatypes.JSON(spec.Options)
		}
		if err := tf.DB.DB.Create(f).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to create field %s: %w", spec.Name, err)
		}
		out = append(out, f)
	}
	return form, out, nil
}

// CreateSubmission inserts a submission row without responses
func (tf *TestFixtures) CreateSubmission(formID uint, email, phone string, at time.Time) (*models.FormSubmission, error) {
	s := &models.FormSubmission{
		FormID:      formID,
		Email:       utils.NormalizeEmail(email),
		Phone:       utils.NormalizePhone(phone),
		SubmittedAt: at.UTC(),
	}
	if err := tf.DB.DB.Create(s).Error; err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}
	return s, nil
}

// CreateResponse inserts a response row
func (tf *TestFixtures) CreateResponse(submissionID, fieldID uint, value string) error {
	r := &models.FormResponse{SubmissionID: submissionID, FieldID: fieldID, Value: value}
	if err := tf.DB.DB.Create(r).Error; err != nil {
		return fmt.Errorf("failed to create response: %w", err)
	}
	return nil
}

// UTMVocab holds a campaign with one source and one medium
type UTMVocab struct {
	Campaign *models.UtmCampaign
	Source   *models.UtmSource
	Medium   *models.UtmMedium
}

// CreateUTMVocab creates a campaign on the form plus a source and a medium
func (tf *TestFixtures) CreateUTMVocab(formID uint, ownerEntityID *uint, campaignCode string) (*UTMVocab, error) {
	n := next()
	c := &models.UtmCampaign{FormID: formID, EntityID: ownerEntityID, Code: campaignCode, Name: campaignCode, IsActive: true}
	if err := tf.DB.DB.Create(c).Error; err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	s := &models.UtmSource{Code: fmt.Sprintf("source%d", n), Name: "Source"}
	if err := tf.DB.DB.Create(s).Error; err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}
	m := &models.UtmMedium{Code: fmt.Sprintf("medium%d", n), Name: "Medium"}
	if err := tf.DB.DB.Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create medium: %w", err)
	}
	return &UTMVocab{Campaign: c, Source: s, Medium: m}, nil
}
