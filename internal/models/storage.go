package models

// StorageNotification is a bucket notification in the S3 event format, as sent
// by S3 and MinIO to webhooks and Kafka targets.
type StorageNotification struct {
	Records []StorageRecord `json:"Records"`
}

// StorageRecord is one object change inside a notification.
type StorageRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// ObjectRef identifies a stored object.
type ObjectRef struct {
	Bucket string
	Key    string
}
