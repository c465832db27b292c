package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CredentialStore owns the cloud-provider credentials used by SigV4
// signing and backs the auth-rotation state machine's two data needs:
// comparing the saved access-key-id to a freshly reloaded one to detect
// external rotation, and invoking an external login command when nothing
// external rotated the credentials.
//
// Mutated only by the rotation path; never read by the UI thread.
type CredentialStore struct {
	mu sync.RWMutex

	filename    string
	profile     string
	accessKeyID string
	secretKey   string
	sessionTok  string

	logger  *zap.Logger
	watcher *fsnotify.Watcher

	// LoginCommand invokes the external login command (e.g. `aws sso
	// login`) when a persistent auth failure isn't explained by
	// external rotation. Nil disables the forced-login state and makes
	// rotation fail fast instead. Invoked through ForceLogin below.
	LoginCommand func(ctx context.Context) error
}

// ForceLogin runs the configured external login command. Returns an error
// if none is configured, so the pipeline's ForceLoginCmd state can fail
// fast instead of retrying forever.
func (cs *CredentialStore) ForceLogin(ctx context.Context) error {
	if cs.LoginCommand == nil {
		return fmt.Errorf("no login command configured")
	}
	return cs.LoginCommand(ctx)
}

// NewCredentialStore loads the initial credentials for profile out of the
// shared credentials file at filename.
func NewCredentialStore(filename, profile string, logger *zap.Logger) (*CredentialStore, error) {
	cs := &CredentialStore{filename: filename, profile: profile, logger: logger}
	if err := cs.Reload(); err != nil {
		return nil, err
	}
	return cs, nil
}

// AccessKeyID returns the currently loaded access-key-id, used by the
// pipeline to detect external rotation.
func (cs *CredentialStore) AccessKeyID() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.accessKeyID
}

// Credentials returns the current access key, secret key and session
// token as a plain tuple for the SigV4 signer.
func (cs *CredentialStore) Credentials() (accessKeyID, secretKey, sessionToken string) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.accessKeyID, cs.secretKey, cs.sessionTok
}

// SecretAccessKey and SessionToken satisfy bedrock.CredentialsProvider
// alongside AccessKeyID above, so a *CredentialStore can be handed
// directly to bedrock.NewSigV4Signer.
func (cs *CredentialStore) SecretAccessKey() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.secretKey
}

func (cs *CredentialStore) SessionToken() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.sessionTok
}

// Reload re-parses the shared credentials file for the configured
// profile. Called on every auth-error path before comparing key ids.
func (cs *CredentialStore) Reload() error {
	cfg, err := config.LoadSharedConfigProfile(context.Background(), cs.profile, func(o *config.LoadSharedConfigOptions) {
		if cs.filename != "" {
			o.CredentialsFiles = []string{cs.filename}
		}
	})
	if err != nil {
		return fmt.Errorf("load shared credentials profile %q: %w", cs.profile, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.accessKeyID = cfg.Credentials.AccessKeyID
	cs.secretKey = cfg.Credentials.SecretAccessKey
	cs.sessionTok = cfg.Credentials.SessionToken
	return nil
}

// WatchForChanges watches the credentials file with fsnotify and reloads
// on write, so external rotation is observed as soon as it happens
// instead of only being discovered the next time an auth error fires.
func (cs *CredentialStore) WatchForChanges(ctx context.Context) error {
	if cs.filename == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credentials watcher: %w", err)
	}
	if err := watcher.Add(cs.filename); err != nil {
		watcher.Close()
		return fmt.Errorf("watch credentials file: %w", err)
	}
	cs.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := cs.Reload(); err != nil {
						cs.logger.Warn("reload credentials after file change failed", zap.Error(err))
					} else {
						cs.logger.Info("credentials file changed, reloaded", zap.String("access_key_id", cs.AccessKeyID()))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				cs.logger.Warn("credentials watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
