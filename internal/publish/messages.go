package publish

import (
	"strings"
)

// Chat replies.
const (
	msgForbidden          = "Вибач, у тебе немає доступу до публікації."
	msgDraftMissing       = "Чернетку не знайдено або вона вже оброблена. Надішли фото з текстом ще раз, будь ласка."
	msgBusy               = "Цей звіт уже обробляється. Будь ласка, зачекай."
	msgPublishingPartners = "Добре. Публікую як звіт від партнерів…"
	msgPublishingRegular  = "Добре. Публікую як звичайний звіт…"
	msgGlobalBusy         = "Зараз обробляється інша публікація. Будь ласка, спробуй ще раз через кілька секунд."
	msgNoActiveDraft      = "Немає активної чернетки."
	msgCancelled          = "Добре. Останню чернетку скасовано."
	msgNoDraftToPublish   = "Я не бачу чернетки. Надішли фото з текстом одним повідомленням, будь ласка."
	msgPhotoWithoutText   = "Будь ласка, надішли фото разом із текстом (підписом) одним повідомленням."
	msgTextWithoutPhoto   = "Текст отримала. Тепер, будь ласка, надішли фото разом із цим текстом в одному повідомленні."
)

var msgHelp = strings.Join([]string{
	"Як користуватись:",
	"1) Надішли фото з текстом (в одному повідомленні).",
	"2) Я спитаю: «Партнёры или нет?»",
	"3) Після відповіді я автоматично підготую запис і додам на сайт.",
	"",
	"Додатково: /cancel — скасувати останню чернетку",
	"/publish — повторно показати питання для останньої чернетки",
}, "\n")

func successText(id, sha string) string {
	return "Готово ✅\nДодано: " + id + "\nCommit: " + sha
}

func failureText(err error) string {
	return "Сталася помилка під час публікації: " + err.Error()
}

func commitMessage(id string) string {
	return "chore(reports): add " + id
}
