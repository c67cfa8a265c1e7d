package db

import (
	"log"

	"textcast/internal/models"
)

func GetUserByID(id int64) (*models.User, error) {
	user := &models.User{}
	err := DB.Get(user, "SELECT * FROM users WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func GetUserByAPIToken(token string) (*models.User, error) {
	user := &models.User{}
	err := DB.Get(user, "SELECT * FROM users WHERE api_token = $1", token)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func GetUserByRSSUUID(uuid string) (*models.User, error) {
	user := &models.User{}
	err := DB.Get(user, "SELECT * FROM users WHERE rss_uuid = $1", uuid)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func GetUserByEmail(email string) (*models.User, error) {
	user := &models.User{}
	err := DB.Get(user, "SELECT * FROM users WHERE email = $1", email)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// MarkMessageSent records that a one-shot message type was sent to a user.
// Returns true exactly once per (user, message type); the unique constraint
// on sent_messages makes the check-then-insert atomic under concurrent
// episode completions.
func MarkMessageSent(userID int64, messageType string) (bool, error) {
	res, err := DB.Exec(`
		INSERT INTO sent_messages (user_id, message_type)
		VALUES ($1, $2)
		ON CONFLICT (user_id, message_type) DO NOTHING`,
		userID, messageType)
	if err != nil {
		log.Printf("Error marking message %q sent for user %d: %v", messageType, userID, err)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
