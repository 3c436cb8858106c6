package chat

import (
	"strings"

	"github.com/fyrsmithlabs/pcrsearch/internal/session"
)

// SystemPrompt is the persona for the web chat. It lives server side so
// clients cannot change it.
const SystemPrompt = "你是 ESG AI 顧問，一位專業的永續與 ESG 顧問。\n" +
	"請以禮貌、專業且簡明的中文回覆使用者，提供實用、可操作的建議。\n" +
	"當需要引用內部資料或工具時，請明確說明你使用了哪些資訊來源。\n" +
	"如果使用者詢問需要法律、會計或醫療等專業領域的最終決策，請建議聯絡相關執業專業人士。\n"

// AssistantPrompt is the persona for the LINE PCR assistant.
const AssistantPrompt = "你是一位專業的 AI 永續顧問，專門協助用戶查詢產品的 PCR (產品類別規則) 資料。\n" +
	"請根據下方工具查詢結果回覆用戶，語氣專業、清晰、自然。\n" +
	"若找到多筆記錄，簡要列出文件名稱與登錄編號，並詢問用戶感興趣的是哪一筆。\n" +
	"若只有一筆記錄，提供文件名稱、登錄編號、制定者、適用產品範圍與下載連結。\n" +
	"若沒有找到資料，請禮貌告知並詢問是否需要查詢其他產品。\n" +
	"若用戶的查詢過於籠統，請先詢問具體的產品名稱或 CCC Code。\n"

// FallbackReply is sent to LINE users when the assistant cannot answer.
const FallbackReply = "抱歉，AI 服務目前無法回應，請稍後再試。"

// DefaultHistoryWindow is the number of history lines included in a prompt.
const DefaultHistoryWindow = 40

// lastN returns at most n trailing messages.
func lastN(msgs []session.Message, n int) []session.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func writeHistory(sb *strings.Builder, msgs []session.Message) {
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		role := m.Role
		if role == "" {
			role = session.RoleUser
		}
		sb.WriteString("[" + role + "] " + m.Content)
	}
}

// BuildPrompt renders system, then the last window history lines as
// "[role] content", then the assistant cue.
func BuildPrompt(system string, history []session.Message, window int) string {
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\n")
	writeHistory(&sb, lastN(history, window))
	sb.WriteString("\n\nAssistant:")
	return sb.String()
}
