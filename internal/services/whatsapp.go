package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

// WhatsAppSender — то, что нужно движку от канала. Конкретный клиент ниже.
type WhatsAppSender interface {
	Send(to string, msg OutboundMessage) error
	SendFlow(to, flowID, flowToken, cta, body string) error
}

type WhatsAppService struct {
	token   string
	baseURL string
	dryRun  bool
	client  *http.Client
}

func NewWhatsAppService(token, phoneNumberID string, dryRun bool) *WhatsAppService {
	return &WhatsAppService{
		token:   token,
		baseURL: fmt.Sprintf("https://graph.facebook.com/v20.0/%s", phoneNumberID),
		dryRun:  dryRun,
		client:  &http.Client{},
	}
}

type waResp struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send — одно исходящее сообщение: текст, кнопки или список.
func (w *WhatsAppService) Send(to string, msg OutboundMessage) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
	}
	switch {
	case msg.Buttons != nil:
		var btns []map[string]any
		for _, b := range msg.Buttons.Buttons {
			btns = append(btns, map[string]any{
				"type":  "reply",
				"reply": map[string]string{"id": b.ID, "title": b.Title},
			})
		}
		body["type"] = "interactive"
		body["interactive"] = map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": msg.Buttons.Body},
			"action": map[string]any{"buttons": btns},
		}
	case msg.List != nil:
		var rows []map[string]string
		for _, r := range msg.List.Rows {
			row := map[string]string{"id": r.ID, "title": r.Title}
			if r.Description != "" {
				row["description"] = r.Description
			}
			rows = append(rows, row)
		}
		body["type"] = "interactive"
		body["interactive"] = map[string]any{
			"type": "list",
			"body": map[string]string{"text": msg.List.Body},
			"action": map[string]any{
				"button": msg.List.ButtonLabel,
				"sections": []map[string]any{
					{"title": msg.List.SectionName, "rows": rows},
				},
			},
		}
	default:
		body["type"] = "text"
		body["text"] = map[string]any{"body": msg.Text, "preview_url": false}
	}
	return w.post("/messages", to, body)
}

// SendFlow — открывает у пользователя зашифрованную Flow-форму.
func (w *WhatsAppService) SendFlow(to, flowID, flowToken, cta, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "flow",
			"body": map[string]string{"text": body},
			"action": map[string]any{
				"name": "flow",
				"parameters": map[string]any{
					"flow_message_version": "3",
					"flow_id":              flowID,
					"flow_token":           flowToken,
					"flow_cta":             cta,
					"flow_action":          "navigate",
				},
			},
		},
	}
	return w.post("/messages", to, payload)
}

func (w *WhatsAppService) post(path, to string, body map[string]any) error {
	if w == nil || w.token == "" || w.dryRun {
		log.Printf("[wa][dry-run] to=%s type=%v", to, body["type"])
		return nil
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", w.baseURL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		log.Printf("[wa][send][err] http: %v", err)
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var api waResp
	_ = json.Unmarshal(respBody, &api)
	if resp.StatusCode != 200 || api.Error != nil {
		log.Printf("[wa][send][err] status=%d body=%s", resp.StatusCode, string(respBody))
		return fmt.Errorf("whatsapp send failed: status=%d", resp.StatusCode)
	}
	if len(api.Messages) > 0 {
		log.Printf("[wa][send] to=%s message_id=%s", to, api.Messages[0].ID)
	}
	return nil
}
