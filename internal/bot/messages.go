package bot

import (
	"net/url"
	"strings"
)

const (
	msgWelcome     = "👋 Привет! Я помогу получить доступ к закрытым материалам.\nНапишите 'купить', чтобы оплатить, 'статус', чтобы проверить оплату, или 'доступ', чтобы получить ссылку."
	msgAskContact  = "📧 Пришлите ваш e-mail, на него придёт чек об оплате."
	msgPaymentLink = "💳 Для оплаты перейдите по ссылке:\n%s\nПосле оплаты я пришлю ссылку для доступа."
	msgAlreadyPaid = "✅ Оплата получена, доступ открыт. Напишите 'доступ', чтобы получить ссылку."
	msgNotPaid     = "⏳ Оплата пока не поступила. Напишите 'купить', чтобы оплатить."
	msgAccessLink  = "✅ Ваша личная ссылка:\n%s"
	msgNoToken     = "❌ Токен доступа не найден. Повторите попытку позже."
	msgNoAccess    = "❌ У вас нет доступа. Для получения доступа напишите 'купить'."

	msgStoreDown     = "❌ Не удалось обратиться к базе данных. Попробуйте позже."
	msgPaymentDown   = "❌ Не удалось создать платёж. Попробуйте позже."
	msgInternalError = "❌ Произошла ошибка. Попробуйте позже."
)

const vkAwayURL = "https://vk.com/away.php?to="

// AccessLink builds the redemption URL for token. VK users get it wrapped
// in the away.php redirect.
func AccessLink(baseURL, token string, viaVK bool) string {
	link := strings.TrimSuffix(baseURL, "/") + "/access?token=" + url.QueryEscape(token)
	if viaVK {
		return vkAwayURL + url.QueryEscape(link)
	}
	return link
}
