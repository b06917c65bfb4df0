package alertdb

import "github.com/cyclopcam/dbh"

// Alert is one fired alert, whether or not the SMS was delivered.
// Camera is the description of the camera (eg its snapshot URL), Label is the detection
// class that triggered the alert, and Error explains why the send failed.
type Alert struct {
	ID       int64       `gorm:"primaryKey" json:"id"`
	Time     dbh.IntTime `json:"time"`
	Camera   string      `json:"camera"`
	Label    string      `json:"label"`
	Body     string      `json:"body"`
	Location string      `json:"location" gorm:"default:null"`
	SmsSID   string      `json:"smsSid" gorm:"column:sms_sid;default:null"`
	Error    string      `json:"error" gorm:"default:null"`
}

func (Alert) TableName() string {
	return "alert"
}

// Returns true if the message was accepted by the SMS provider
func (a *Alert) Delivered() bool {
	return a.Error == "" && a.SmsSID != ""
}
