// Package whatsapp holds the data contract for the WhatsApp Business
// webhook and a minimal Graph API media client. Only what the bill pipeline
// needs crosses this boundary: who sent an image, and its bytes.
package whatsapp

// Payload is the webhook notification envelope.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one business-account notification batch.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field notification inside an entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the messages of a "messages" change.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Messages         []Message `json:"messages"`
}

// Message is one inbound message.
type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Image     *Media `json:"image,omitempty"`
}

// Media references an uploaded media object on the Graph API.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
}

// IncomingImage is the flattened data contract handed to the bill pipeline.
type IncomingImage struct {
	From     string
	MediaID  string
	MimeType string
}

// Images flattens a webhook payload into the image messages it carries.
// Non-image messages and non-message changes are ignored.
func (p *Payload) Images() []IncomingImage {
	if p.Object != "whatsapp_business_account" {
		return nil
	}

	var images []IncomingImage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "image" || msg.Image == nil {
					continue
				}
				images = append(images, IncomingImage{
					From:     msg.From,
					MediaID:  msg.Image.ID,
					MimeType: msg.Image.MimeType,
				})
			}
		}
	}
	return images
}
