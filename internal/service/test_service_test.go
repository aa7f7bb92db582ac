package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/repository"
)

type fakeTestStore struct {
	defs      map[uuid.UUID]*model.TestDefinition
	createErr error
	getErr    error
	gets      int
}

func newFakeTestStore() *fakeTestStore {
	return &fakeTestStore{defs: make(map[uuid.UUID]*model.TestDefinition)}
}

func (f *fakeTestStore) Create(_ context.Context, def *model.TestDefinition) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.defs[def.ID] = def
	return nil
}

func (f *fakeTestStore) GetByID(_ context.Context, id uuid.UUID) (*model.TestDefinition, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	def, ok := f.defs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return def, nil
}

func (f *fakeTestStore) GetIDByLink(_ context.Context, link string) (uuid.UUID, error) {
	for id, def := range f.defs {
		if def.TestLink == link {
			return id, nil
		}
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (f *fakeTestStore) ListByCreator(_ context.Context, creatorID int) ([]model.TestDefinition, error) {
	var out []model.TestDefinition
	for _, def := range f.defs {
		if def.CreatorID == creatorID {
			out = append(out, *def)
		}
	}
	return out, nil
}

func createRequest() *model.CreateTestRequest {
	date := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &model.CreateTestRequest{
		Title:       "Algorithms midterm",
		Subject:     "Algorithms",
		TestLink:    "algo-mid",
		Department:  "CS",
		Degree:      "BSc",
		StudentYear: "2",
		Date:        &date,
		Duration:    60,
		TotalMarks:  6,
		Questions: []model.CreateQuestionRequest{
			{Type: "MCQ", Question: "2+2?", Options: []string{"3", "4"}, CorrectOption: "1", Marks: 1},
			{Type: "CODING", Question: "Sum", Marks: 5, TestCases: []model.CreateTestCaseRequest{
				{Input: "1 2", Expected: "3", IsPublic: true},
				{Input: "5 5", Expected: "10"},
			}},
		},
	}
}

func TestTestServiceCreateAndLookup(t *testing.T) {
	store := newFakeTestStore()
	svc := NewTestService(store, nil, time.Minute, zerolog.Nop())
	ctx := context.Background()

	def, err := svc.Create(ctx, createRequest(), 9)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if def.CreatorID != 9 || len(def.Questions) != 2 {
		t.Fatalf("unexpected definition %+v", def)
	}

	full, err := svc.GetDefinition(ctx, def.ID)
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if len(full.Questions[1].TestCases) != 2 || full.Questions[0].CorrectOption != "1" {
		t.Fatal("full definition lost private data")
	}

	view, err := svc.GetByLink(ctx, "algo-mid")
	if err != nil {
		t.Fatalf("GetByLink: %v", err)
	}
	if view.Questions[0].CorrectOption != "" {
		t.Fatal("public view leaked the correct option")
	}
	if len(view.Questions[1].TestCases) != 1 || !view.Questions[1].TestCases[0].IsPublic {
		t.Fatalf("public view leaked private cases: %+v", view.Questions[1].TestCases)
	}

	list, err := svc.ListByCreator(ctx, 9)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByCreator = %d, %v", len(list), err)
	}
	if empty, _ := svc.ListByCreator(ctx, 10); empty == nil {
		t.Fatal("ListByCreator returned nil for no tests")
	}
}

func TestTestServiceCreateErrors(t *testing.T) {
	store := newFakeTestStore()
	svc := NewTestService(store, nil, time.Minute, zerolog.Nop())

	store.createErr = repository.ErrDuplicateLink
	if _, err := svc.Create(context.Background(), createRequest(), 1); !errors.Is(err, ErrTestLinkTaken) {
		t.Fatalf("expected ErrTestLinkTaken, got %v", err)
	}

	store.createErr = nil
	req := createRequest()
	req.Questions[0].Options = []string{"only"}
	req.Questions[0].CorrectOption = ""
	if _, err := svc.Create(context.Background(), req, 1); !errors.Is(err, model.ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
}

func TestTestServiceDistinguishesNotFound(t *testing.T) {
	store := newFakeTestStore()
	svc := NewTestService(store, nil, time.Minute, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.GetDefinition(ctx, uuid.New()); !errors.Is(err, ErrTestNotFound) {
		t.Fatalf("expected ErrTestNotFound, got %v", err)
	}
	if _, err := svc.GetByLink(ctx, "missing"); !errors.Is(err, ErrTestNotFound) {
		t.Fatalf("expected ErrTestNotFound, got %v", err)
	}

	transient := errors.New("connection reset")
	store.getErr = transient
	_, err := svc.GetDefinition(ctx, uuid.New())
	if errors.Is(err, ErrTestNotFound) || !errors.Is(err, transient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
}
