package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"roomwatch/internal/logger"
	"roomwatch/internal/models"
)

const (
	selectUserContact = `
	SELECT id, name, email, phone
	FROM users
	WHERE id = $1`

	selectRoomOwnerContact = `
	SELECT u.id, u.name, u.email, u.phone
	FROM rooms r
	JOIN users u ON u.id = r.user_id
	WHERE r.id = $1`
)

// PhoneDecrypter turns a stored phone number into a dialable one.
type PhoneDecrypter interface {
	Decrypt(encoded string) (string, error)
}

// ContactRepository looks up alert recipients in PostgreSQL.
type ContactRepository struct {
	db     *sql.DB
	phones PhoneDecrypter
}

// NewContactRepository creates a contact repository. phones may be nil when
// numbers are stored in clear.
func NewContactRepository(db *sql.DB, phones PhoneDecrypter) *ContactRepository {
	return &ContactRepository{db: db, phones: phones}
}

// ContactForUser returns the contact details of userID.
func (r *ContactRepository) ContactForUser(ctx context.Context, userID string) (models.UserContactInfo, error) {
	return r.lookup(ctx, selectUserContact, userID)
}

// ContactForRoom returns the contact details of the user owning roomID.
func (r *ContactRepository) ContactForRoom(ctx context.Context, roomID string) (models.UserContactInfo, error) {
	return r.lookup(ctx, selectRoomOwnerContact, roomID)
}

func (r *ContactRepository) lookup(ctx context.Context, query, arg string) (models.UserContactInfo, error) {
	var (
		c     models.UserContactInfo
		phone string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&c.UserID, &c.Name, &c.Email, &phone)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserContactInfo{}, fmt.Errorf("%w: %s", ErrNotFound, arg)
	}
	if err != nil {
		return models.UserContactInfo{}, unavailable("query contact", err)
	}

	c.Phone = r.decryptPhone(c.UserID, phone)
	return c, nil
}

// decryptPhone returns "" when the number cannot be used; email still goes out.
func (r *ContactRepository) decryptPhone(userID, stored string) string {
	if stored == "" || r.phones == nil {
		return stored
	}
	phone, err := r.phones.Decrypt(stored)
	if err != nil {
		lg := logger.WithComponent("contact_store")
		lg.Warn().
			Err(err).
			Str("user_id", userID).
			Msg("cannot decrypt phone number, phone channels disabled for user")
		return ""
	}
	return phone
}
