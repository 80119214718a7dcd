// Package notifications alerts operators when an audit run does not pass.
package notifications

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const TELEGRAM = "telegram"

// ConfigStore persists notifier configs as raw JSON.
type ConfigStore interface {
	GetNotifiersConfig(notifier string) ([]byte, error)
	SaveNotifiersConfig(notifier string, config []byte) error
}

type NotificationHandler struct {
	Storage ConfigStore

	// TelegramAPI overrides the Telegram bot API base URL.
	TelegramAPI string

	telegram *NotifyTelegram
	lock     sync.RWMutex
}

func New(store ConfigStore) (*NotificationHandler, error) {

	n := &NotificationHandler{
		Storage:     store,
		TelegramAPI: TELEGRAM_API,
	}

	if err := n.LoadNotifiers(); err != nil {
		return nil, errors.Wrap(err, "Failed New Notification")
	}

	return n, nil
}

func (n *NotificationHandler) LoadNotifiers() error {

	// Get telegram notifications config from DB, as []byte string
	tConfig, err := n.Storage.GetNotifiersConfig(TELEGRAM)
	if err != nil {
		return errors.Wrap(err, "Unable to load telegram config")
	}

	// Configure telegram; Don't save what we just loaded
	if err := n.Configure(TELEGRAM, tConfig, false); err != nil {
		return errors.Wrap(err, "Unable to init telegram")
	}

	return nil
}

// Configure replaces a notifier's config, saving it when saveConfig is set.
func (n *NotificationHandler) Configure(notifier string, config []byte, saveConfig bool) error {

	switch notifier {
	case TELEGRAM:
		nt, err := n.NewTelegram(config, saveConfig)
		if err != nil {
			return err
		}

		n.lock.Lock()
		n.telegram = nt
		n.lock.Unlock()

	default:
		return errors.New("Unknown notification type")
	}

	return nil
}

// Send delivers msg through every enabled notifier.
func (n *NotificationHandler) Send(msg string) error {

	n.lock.RLock()
	nt := n.telegram
	n.lock.RUnlock()

	if nt == nil || !nt.IsEnabled() {
		log.WithField("MSG", msg).Debug("No notifiers enabled")
		return nil
	}

	return nt.Send(msg)
}

// TestSend delivers msg through one notifier, enabled or not.
func (n *NotificationHandler) TestSend(notifier, msg string) error {

	n.lock.RLock()
	nt := n.telegram
	n.lock.RUnlock()

	switch notifier {
	case TELEGRAM:
		if nt == nil {
			return errors.New("Telegram is not configured")
		}
		return nt.Send(msg)
	}

	return errors.New("Unknown notification type")
}

func (n *NotificationHandler) GetConfig() (json.RawMessage, error) {

	n.lock.RLock()
	defer n.lock.RUnlock()

	// Return RawMessage so as not to double Marshal
	bts, err := json.Marshal(map[string]*NotifyTelegram{
		TELEGRAM: n.telegram,
	})
	return json.RawMessage(bts), err
}
