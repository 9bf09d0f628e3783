package config

// Indicator kinds produced by the builtin pattern table.
const (
	KindDiscordWebhook    = "discord-webhook"
	KindDiscordToken      = "discord-token"
	KindDiscordTokenMFA   = "discord-token-mfa"
	KindTelegramBotToken  = "telegram-bot-token"
	KindGenericCredential = "generic-credential"
	KindSuspiciousURL     = "suspicious-url"
	KindSuspiciousPath    = "suspicious-path"
	KindSuspiciousHeader  = "suspicious-header"
	KindLargeUpload       = "large-upload"
)

// BuiltinPatterns returns the stock indicator table. Known-channel entries are
// signatures for established abuse distribution channels and carry maximum
// severity; the scorer treats any one of them as conclusive.
func BuiltinPatterns() []PatternRule {
	return []PatternRule{
		// Known abuse channels: token formats and webhook endpoints.
		{Kind: KindDiscordWebhook, Regex: `discord(?:app)?\.com/api/webhooks/\d+/[A-Za-z0-9_-]+`, Severity: 100, KnownChannel: true},
		{Kind: KindDiscordToken, Regex: `(?i)[A-Za-z0-9_-]{23,28}\.[A-Za-z0-9_-]{6,7}\.[A-Za-z0-9_-]{38,}`, Severity: 100, KnownChannel: true},
		{Kind: KindDiscordTokenMFA, Regex: `(?i)mfa\.[A-Za-z0-9_-]{84,}`, Severity: 100, KnownChannel: true},
		{Kind: KindTelegramBotToken, Regex: `\d{8,10}:[A-Za-z0-9_-]{35}`, Severity: 100, KnownChannel: true},

		// Generic credential assignments in request bodies.
		{Kind: KindGenericCredential, Regex: `(?i)(api[_-]?key|token|secret)["']?\s*[:=]\s*["']?[A-Za-z0-9_-]{20,100}["']?`, Severity: 40},

		// Exfiltration-adjacent destinations and URL shapes.
		{Kind: KindSuspiciousURL, Regex: `(?i)api\.telegram\.org/bot`, Severity: 25},
		{Kind: KindSuspiciousURL, Regex: `(?i)webhook`, Severity: 25},
		{Kind: KindSuspiciousURL, Regex: `(?i)pastebin\.com`, Severity: 25},
		{Kind: KindSuspiciousURL, Regex: `(?i)hastebin\.com`, Severity: 25},
		{Kind: KindSuspiciousURL, Regex: `(?i)transfer\.sh`, Severity: 25},
		{Kind: KindSuspiciousURL, Regex: `(?i)api\.ipify\.org`, Severity: 25},
		{Kind: KindSuspiciousURL, Regex: `(?i)raw\.githubusercontent\.com`, Severity: 25},

		// URL path shapes typical of unknown C2 endpoints.
		{Kind: KindSuspiciousPath, Regex: `(?i)/api/(collect|exfil)`, Severity: 20},
		{Kind: KindSuspiciousPath, Regex: `(?i)/(upload|submit|beacon|c2|command|heartbeat)(/|\?|$)`, Severity: 20},
		{Kind: KindSuspiciousPath, Regex: `(?i)base64`, Severity: 20},

		// Header names planted by stealer payloads.
		{Kind: KindSuspiciousHeader, Regex: `(?i)^x-(session-token|auth-token|api-key|hwid|client-id|victim-id)$`, Severity: 15},
	}
}
