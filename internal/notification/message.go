package notification

import (
	"bytes"
	"fmt"
	"text/template"
)

type Kind string

const (
	KindOrderPlaced    Kind = "order.placed"
	KindOrderConfirmed Kind = "order.confirmed"
	KindOrderShipped   Kind = "order.shipped"
	KindOrderDelivered Kind = "order.delivered"
)

// Message is what every Sender delivers.
type Message struct {
	Kind      Kind   `json:"kind"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	OrderID   string `json:"order_id,omitempty"`
}

type ItemLine struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// OrderData is the view of an order the templates render.
type OrderData struct {
	OrderID   string
	Recipient string
	Items     []ItemLine
	Total     int64
	Location  string
}

type messageTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[Kind]messageTemplate{
	KindOrderPlaced: {
		subject: "Confirmation: Your Order Has Been Successfully Created",
		body: template.Must(template.New("placed").Parse(`Thank you for your order!

Order ID: {{.OrderID}}
{{range .Items}}- {{.ProductID}} x{{.Quantity}} @ {{.UnitPrice}}
{{end}}Total: {{.Total}}

Your order will be processed and shipped as soon as possible.
We will send you the tracking details once your order has been shipped.
`)),
	},
	KindOrderConfirmed: {
		subject: "Your Order Has Been Confirmed",
		body: template.Must(template.New("confirmed").Parse(`Good news! Order {{.OrderID}} has been confirmed and is being prepared.
`)),
	},
	KindOrderShipped: {
		subject: "Your Order Is On Its Way",
		body: template.Must(template.New("shipped").Parse(`Order {{.OrderID}} has been shipped.{{if .Location}}
Last known location: {{.Location}}{{end}}
`)),
	},
	KindOrderDelivered: {
		subject: "Your Order Has Been Delivered",
		body: template.Must(template.New("delivered").Parse(`Order {{.OrderID}} has been delivered. We hope you enjoy your purchase!
You can now leave a review for the products in this order.
`)),
	},
}

// Render builds the message of the given kind for an order.
func Render(kind Kind, data OrderData) (Message, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return Message{}, fmt.Errorf("notification: no template for %q", kind)
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("notification: failed to render %s: %w", kind, err)
	}

	return Message{
		Kind:      kind,
		Recipient: data.Recipient,
		Subject:   tmpl.subject,
		Body:      body.String(),
		OrderID:   data.OrderID,
	}, nil
}
