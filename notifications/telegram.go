package notifications

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const TELEGRAM_API = "https://api.telegram.org"

type NotifyTelegram struct {
	ChatIDs []int64 `json:"chatids"`
	APIKey  string  `json:"apikey"`
	Enabled bool    `json:"enabled"`

	apiBase string
	client  *http.Client
}

// NewTelegram creates a NotifyTelegram from JSON provided by either a DB
// lookup or the API. If saveConfig is true the config is written to the DB,
// which is not wanted when it was just loaded from there.
func (n *NotificationHandler) NewTelegram(config []byte, saveConfig bool) (*NotifyTelegram, error) {

	nt := &NotifyTelegram{
		apiBase: strings.TrimRight(n.TelegramAPI, "/"),
		client: &http.Client{
			Timeout: time.Second * 10,
		},
	}

	// empty config from db?
	if config == nil {
		log.Debug("No telegram config saved")
		return nt, nil
	}

	if err := json.Unmarshal(config, nt); err != nil {
		return nil, errors.Wrap(err, "Unable to unmarshal telegram config")
	}

	if nt.Enabled && (nt.APIKey == "" || len(nt.ChatIDs) == 0) {
		return nil, errors.New("Telegram needs an API key and at least one chat id")
	}

	if saveConfig {
		if err := n.Storage.SaveNotifiersConfig(TELEGRAM, config); err != nil {
			return nil, errors.Wrap(err, "Unable to save telegram config")
		}
	}

	return nt, nil
}

func (n *NotifyTelegram) IsEnabled() bool {
	return n.Enabled
}

// Send posts msg to every chat id, returning the first failure after trying
// them all.
func (n *NotifyTelegram) Send(msg string) error {
	// curl -G \
	//  --data-urlencode "chat_id=111112233" \
	//  --data-urlencode "text=$message" \
	//  https://api.telegram.org/bot${TOKEN}/sendMessage

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.APIKey)

	var firstErr error
	for _, id := range n.ChatIDs {
		if err := n.sendMessage(endpoint, msg, id); err != nil {
			log.WithField("ChatId", id).WithError(err).Error("Unable to send telegram message")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return firstErr
	}

	log.WithField("MSG", msg).Info("Sent Telegram Message(s)")

	return nil
}

func (n *NotifyTelegram) sendMessage(endpoint, msg string, chatID int64) error {

	queryParams := url.Values{}
	queryParams.Set("chat_id", strconv.FormatInt(chatID, 10))
	queryParams.Set("text", msg)

	req, err := http.NewRequest(http.MethodGet, endpoint+"?"+queryParams.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "Unable to make telegram request")
	}
	req.Header.Add("Content-type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "Unable to execute telegram request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "Unable to read telegram message response")
	}

	log.WithField("Resp", string(body)).Debug("Telegram Reply")

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("telegram returned code %d with body %s", resp.StatusCode, string(body))
	}

	return nil
}
