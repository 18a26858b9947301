package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"

	"github.com/sunpetal/galmirror"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(sqlx.NewDb(db, "pgx")), mock
}

func TestGalleryinfo(t *testing.T) {
	store, mock := newMockStore(t)

	want := &galmirror.Galleryinfo{ID: 42, Title: "t", Language: "english"}
	data, _ := json.Marshal(want)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM galleryinfo WHERE id = $1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))

	got, err := store.Galleryinfo(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("galleryinfo mismatch (-want, +got):\n%s", d)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGalleryinfoNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM galleryinfo WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Galleryinfo(context.Background(), 7)
	if !errors.Is(err, galmirror.ErrGalleryinfoNotFound) {
		t.Errorf("got err %v, want ErrGalleryinfoNotFound", err)
	}
}

func TestCreateUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	g := &galmirror.Galleryinfo{ID: 42, Title: "t"}
	data, _ := json.Marshal(g)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO galleryinfo (id, data) VALUES ($1, $2)`)).
		WithArgs(int64(42), data).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Create(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM galleryinfo WHERE id = $1`)).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(context.Background(), 42); err != nil {
		t.Fatal(err)
	}

	// Deleting an absent id reports zero rows affected and no error.
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM galleryinfo WHERE id = $1`)).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Delete(context.Background(), 42); err != nil {
		t.Fatal(err)
	}
}

func TestAllIDs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM galleryinfo ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))

	got, err := store.AllIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]galmirror.ID{1, 2, 3}, got); d != "" {
		t.Errorf("ids mismatch (-want, +got):\n%s", d)
	}
}
