package codec

import (
	"encoding/json"
	"time"
)

// NotificationDisplayName is shown by the glasses as the notification source
const NotificationDisplayName = "AugmentOS"

// NotificationDateLayout is the layout of the notification "date" field
const NotificationDateLayout = "2006-01-02 15:04:05"

// Notification is the body of a phone notification forwarded to the glasses
type Notification struct {
	MsgID         int    `json:"msg_id"`
	Type          int    `json:"type"`
	AppIdentifier string `json:"app_identifier"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle"`
	Message       string `json:"message"`
	TimeS         int64  `json:"time_s"`
	Date          string `json:"date"`
	DisplayName   string `json:"display_name"`
}

type notificationEnvelope struct {
	Notification Notification `json:"ncs_notification"`
	Type         string       `json:"type"`
}

// NewNotification fills in the timestamp fields from now
func NewNotification(msgID int, appID, title, subtitle, message string, now time.Time) Notification {
	return Notification{
		MsgID:         msgID,
		Type:          1,
		AppIdentifier: appID,
		Title:         title,
		Subtitle:      subtitle,
		Message:       message,
		TimeS:         now.Unix(),
		Date:          now.Format(NotificationDateLayout),
		DisplayName:   NotificationDisplayName,
	}
}

// NotificationPayload serialises a notification as an "Add" event
func NotificationPayload(n Notification) ([]byte, error) {
	return json.Marshal(notificationEnvelope{Notification: n, Type: "Add"})
}

// WhitelistEntry is one application allowed to raise notifications
type WhitelistEntry struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type whitelistApps struct {
	List   []WhitelistEntry `json:"list"`
	Enable bool             `json:"enable"`
}

type whitelistBody struct {
	CalendarEnable bool          `json:"calendar_enable"`
	CallEnable     bool          `json:"call_enable"`
	MsgEnable      bool          `json:"msg_enable"`
	IOSMailEnable  bool          `json:"ios_mail_enable"`
	App            whitelistApps `json:"app"`
}

// WhitelistPayload serialises the app whitelist. The built-in calendar,
// call, message and mail sources stay disabled.
func WhitelistPayload(entries []WhitelistEntry) ([]byte, error) {
	if entries == nil {
		entries = []WhitelistEntry{}
	}
	return json.Marshal(whitelistBody{
		App: whitelistApps{List: entries, Enable: true},
	})
}
