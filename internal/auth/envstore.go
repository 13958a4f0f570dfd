package auth

import (
	"os"
	"time"
)

// EnvStore reads credentials from environment variables. It is read-only
// and ignores the username argument; env credentials are whoever the
// deployment says they are.
type EnvStore struct{}

func (EnvStore) Save(*Credentials) error { return ErrStoreReadOnly }

func (EnvStore) Load(username string) (*Credentials, error) {
	creds := &Credentials{
		Username:     os.Getenv("REDDIT_USERNAME"),
		Password:     os.Getenv("REDDIT_PASSWORD"),
		ClientID:     os.Getenv("REDDIT_CLIENT_ID"),
		ClientSecret: os.Getenv("REDDIT_CLIENT_SECRET"),
		UserAgent:    os.Getenv("REDDIT_USER_AGENT"),
		LastModified: time.Now(),
	}
	if creds.Username == "" || creds.Password == "" || creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, ErrCredentialsNotFound
	}
	if username != "" && username != creds.Username {
		return nil, ErrCredentialsNotFound
	}
	return creds, nil
}

func (EnvStore) Delete(string) error { return ErrStoreReadOnly }
