package models

import "time"

// FlowState — позиция контакта внутри текущего диалогового сценария.
type FlowState string

const (
	StateIdle FlowState = "idle"

	StateLoginIdentifier FlowState = "login_identifier"
	StateLoginPassword   FlowState = "login_password"

	StateRegisterRole      FlowState = "register_role"
	StateRegisterName      FlowState = "register_name"
	StateRegisterEmail     FlowState = "register_email"
	StateRegisterPassword  FlowState = "register_password"
	StateRegisterContinent FlowState = "register_continent"
	StateRegisterCountry   FlowState = "register_country"
	StateRegisterAge       FlowState = "register_age"
	StateRegisterGrade     FlowState = "register_grade"
	StateVerifyEmailCode   FlowState = "verify_email_code"

	StateLinkEmail    FlowState = "link_email"
	StateLinkPassword FlowState = "link_password"

	StateResetEmail    FlowState = "reset_email"
	StateResetPassword FlowState = "reset_password"
	StateResetCode     FlowState = "reset_code"
)

// FlowData — данные, накопленные шагами ТЕКУЩЕЙ попытки сценария.
// Всегда пустая, когда state = idle. Пароль в открытом виде сюда
// не попадает никогда — только bcrypt-хэш.
type FlowData struct {
	Role         string `json:"role,omitempty"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
	Continent    string `json:"continent,omitempty"`
	Country      string `json:"country,omitempty"`
	Age          int    `json:"age,omitempty"`
	Grade        int    `json:"grade,omitempty"`

	// login / link
	LoginAccountID int `json:"login_account_id,omitempty"`
}

// IsEmpty — true, если ни один шаг ещё ничего не записал.
func (d FlowData) IsEmpty() bool {
	return d == FlowData{}
}

// ConversationRecord — одна запись на контакт (номер телефона).
// BadAttempts — подряд идущие невалидные вводы в текущем состоянии;
// лежит отдельно от FlowData, потому что невалидный ввод не должен
// менять накопленные данные сценария.
type ConversationRecord struct {
	ContactID       string    `json:"contact_id"`
	LinkedAccountID int       `json:"linked_account_id,omitempty"`
	CurrentState    FlowState `json:"current_state"`
	FlowData        FlowData  `json:"flow_data"`
	BadAttempts     int       `json:"bad_attempts,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewConversationRecord(contactID string) *ConversationRecord {
	return &ConversationRecord{
		ContactID:    contactID,
		CurrentState: StateIdle,
		UpdatedAt:    time.Now(),
	}
}
