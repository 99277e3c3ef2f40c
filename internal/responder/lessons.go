package responder

import (
	"fmt"

	"github.com/ashureev/lingua-labs/internal/domain"
)

type lessonSet struct {
	Greetings []string
	Basics    []string
	Phrases   []string
}

func (l lessonSet) all() []string {
	out := make([]string, 0, len(l.Greetings)+len(l.Basics)+len(l.Phrases))
	out = append(out, l.Greetings...)
	out = append(out, l.Basics...)
	return append(out, l.Phrases...)
}

var lessons = map[string]lessonSet{
	"ru": {
		Greetings: []string{"Привет!", "Здравствуйте!", "Добро пожаловать!"},
		Basics:    []string{"Как дела?", "Меня зовут...", "Откуда вы?"},
		Phrases:   []string{"Спасибо большое", "Пожалуйста", "Извините"},
	},
	"en": {
		Greetings: []string{"Hello!", "Hi there!", "Welcome!"},
		Basics:    []string{"How are you?", "My name is...", "Where are you from?"},
		Phrases:   []string{"Thank you very much", "You're welcome", "Excuse me"},
	},
	"es": {
		Greetings: []string{"¡Hola!", "¡Buenos días!", "¡Bienvenido!"},
		Basics:    []string{"¿Cómo estás?", "Me llamo...", "¿De dónde eres?"},
		Phrases:   []string{"Muchas gracias", "De nada", "Disculpe"},
	},
	"fr": {
		Greetings: []string{"Bonjour!", "Salut!", "Bienvenue!"},
		Basics:    []string{"Comment allez-vous?", "Je m'appelle...", "D'où venez-vous?"},
		Phrases:   []string{"Merci beaucoup", "De rien", "Excusez-moi"},
	},
}

// Keyword sets, matched as substrings of the lower-cased input.
var (
	greetingWords = []string{"привет", "hello", "hola", "bonjour"}
	thanksWords   = []string{"спасибо", "thank", "gracias", "merci"}
	helpWords     = []string{"помощь", "help", "ayuda", "aide"}
)

var starters = map[domain.Level][]string{
	domain.LevelBeginner: {
		"Let's start with simple greetings! Say 'hello' in the language you are learning.",
		"Try introducing yourself in the new language!",
		"How do you say 'thank you' in the language you are learning?",
	},
	domain.LevelIntermediate: {
		"Tell me about your day in the language you are learning.",
		"Describe your favourite place to relax.",
		"What are your plans for the weekend?",
	},
	domain.LevelAdvanced: {
		"Let's discuss current events around the world.",
		"What do you think about modern technology?",
		"Tell me about an interesting book you have read.",
	},
}

var greetingReplies = map[string]string{
	"ru": "Отлично! Вы поздоровались. Теперь попробуйте спросить 'Как дела?'",
	"en": "Great! You said hello. Now try asking 'How are you?'",
	"es": "¡Excelente! Dijiste hola. Ahora intenta preguntar '¿Cómo estás?'",
	"fr": "Parfait! Vous avez dit bonjour. Maintenant essayez de demander 'Comment allez-vous?'",
}

var thanksReplies = map[string]string{
	"ru": "Прекрасно! Вы сказали 'спасибо'. Ответ: 'Пожалуйста!' или 'Не за что!'",
	"en": "Perfect! You said 'thank you'. Response: 'You're welcome!' or 'No problem!'",
	"es": "¡Perfecto! Dijiste 'gracias'. Respuesta: '¡De nada!' o '¡No hay de qué!'",
	"fr": "Parfait! Vous avez dit 'merci'. Réponse: 'De rien!' ou 'Je vous en prie!'",
}

var helpReplies = map[string]string{
	"ru": "Я помогу вам изучать русский язык! Я учу базовым фразам, исправляю ошибки и предлагаю новые слова. Просто пишите мне на русском языке.",
	"en": "I'll help you learn English! I teach basic phrases, correct mistakes and suggest new words. Just write to me in English.",
	"es": "¡Te ayudaré a aprender español! Enseño frases básicas, corrijo errores y sugiero palabras nuevas. Escríbeme en español.",
	"fr": "Je vais vous aider à apprendre le français! J'enseigne des phrases simples, je corrige les erreurs et je propose de nouveaux mots. Écrivez-moi en français.",
}

var fallbackReplies = map[string]string{
	"ru": "Интересно! Давайте попробуем что-то новое: %s",
	"en": "Interesting! Let's try something new: %s",
	"es": "¡Interesante! Probemos algo nuevo: %s",
	"fr": "Intéressant! Essayons quelque chose de nouveau: %s",
}

var welcomes = map[string]map[domain.Level]string{
	"ru": {
		domain.LevelBeginner:     "Привет! 👋 Я ваш помощник для изучения русского языка. Давайте начнем с простых фраз!",
		domain.LevelIntermediate: "Здравствуйте! Готовы практиковать русский язык? Попробуем более сложные диалоги!",
		domain.LevelAdvanced:     "Добро пожаловать! Давайте обсудим интересные темы на русском языке.",
	},
	"en": {
		domain.LevelBeginner:     "Hello! 👋 I'm your assistant for learning English. Let's start with simple phrases!",
		domain.LevelIntermediate: "Hi there! Ready to practice English? Let's try more complex conversations!",
		domain.LevelAdvanced:     "Welcome! Let's discuss interesting topics in English.",
	},
	"es": {
		domain.LevelBeginner:     "¡Hola! 👋 Soy tu asistente para aprender español. ¡Empecemos con frases simples!",
		domain.LevelIntermediate: "¡Hola! ¿Listo para practicar español? ¡Intentemos conversaciones más complejas!",
		domain.LevelAdvanced:     "¡Bienvenido! Discutamos temas interesantes en español.",
	},
	"fr": {
		domain.LevelBeginner:     "Bonjour! 👋 Je suis votre assistant pour apprendre le français. Commençons par des phrases simples!",
		domain.LevelIntermediate: "Salut! Prêt à pratiquer le français? Essayons des conversations plus complexes!",
		domain.LevelAdvanced:     "Bienvenue! Discutons de sujets intéressants en français.",
	},
}

// Welcome returns the opening assistant message for a new session.
func Welcome(language string, level domain.Level) string {
	if byLevel, ok := welcomes[language]; ok {
		if msg, ok := byLevel[level]; ok {
			return msg
		}
	}
	return fmt.Sprintf("Welcome to your %s learning session!", language)
}
