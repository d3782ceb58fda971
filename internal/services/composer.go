package services

// Лимиты канала. Вызывающий код может передать больше кандидатов,
// чем канал позволяет — компоновщик обрезает, а не падает.
const (
	maxButtons      = 3
	maxButtonTitle  = 20
	maxListRows     = 10
	maxRowTitle     = 24
	maxRowDesc      = 72
	maxListButton   = 20
	maxBodyLength   = 1024
	maxHeaderLength = 60
)

type Button struct {
	ID    string
	Title string
}

type ListRow struct {
	ID          string
	Title       string
	Description string
}

type ListMessage struct {
	Body        string
	ButtonLabel string
	SectionName string
	Rows        []ListRow
}

// OutboundMessage — нормализованное исходящее сообщение, ровно одно из
// трёх полей заполнено.
type OutboundMessage struct {
	Text    string
	Buttons *ButtonsMessage
	List    *ListMessage
}

type ButtonsMessage struct {
	Body    string
	Buttons []Button
}

type Composer struct{}

func NewComposer() *Composer { return &Composer{} }

func (c *Composer) Text(body string) OutboundMessage {
	return OutboundMessage{Text: truncate(body, maxBodyLength)}
}

func (c *Composer) Buttons(body string, buttons ...Button) OutboundMessage {
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	out := make([]Button, len(buttons))
	for i, b := range buttons {
		out[i] = Button{ID: b.ID, Title: truncate(b.Title, maxButtonTitle)}
	}
	return OutboundMessage{Buttons: &ButtonsMessage{
		Body:    truncate(body, maxBodyLength),
		Buttons: out,
	}}
}

func (c *Composer) List(body, buttonLabel, sectionName string, rows []ListRow) OutboundMessage {
	if len(rows) > maxListRows {
		rows = rows[:maxListRows]
	}
	out := make([]ListRow, len(rows))
	for i, r := range rows {
		out[i] = ListRow{
			ID:          r.ID,
			Title:       truncate(r.Title, maxRowTitle),
			Description: truncate(r.Description, maxRowDesc),
		}
	}
	return OutboundMessage{List: &ListMessage{
		Body:        truncate(body, maxBodyLength),
		ButtonLabel: truncate(buttonLabel, maxListButton),
		SectionName: truncate(sectionName, maxHeaderLength),
		Rows:        out,
	}}
}

// truncate — по рунам, не по байтам: заголовки бывают не-ASCII.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
