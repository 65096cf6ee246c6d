package summarize

import "fmt"

// Prompt versions participate in the summary identity key. Bump on any
// wording change that should invalidate stored summaries.
const (
	ChapterPromptVersion = "v2"
	BookPromptVersion    = "v2"
	StoryPromptVersion   = "v1"
)

const (
	chapterSystemPrompt = "你是一个严谨的章节总结器。只输出严格有效的 JSON，不要输出 markdown。不要添加任何额外说明。"
	bookSystemPrompt    = "你是一个严谨的全书总结器。只输出严格有效的 JSON，不要输出 markdown。不要添加任何额外说明。"
	storySystemPrompt   = "你是一个说书人口吻的长篇叙述生成器。只输出严格有效的 JSON，不要输出 markdown。不要添加任何额外说明。"

	noCitationsInstruction = "不要输出 citations 字段。"
)

func chapterSummaryPrompts(language, style string, words [2]int, chapterText string) (system, user string) {
	user = fmt.Sprintf(
		"请基于以下章节原文，生成章节级 JSON：\n"+
			"字段要求：\n"+
			"- summary: 章节总结（自然语言，控制在指定字数范围）\n"+
			"- events: 事件数组，每项包含 who/what/where/outcome（字符串即可）\n"+
			"- characters: 主要人物姓名数组\n"+
			"- open_questions: 未解决的问题数组\n"+
			noCitationsInstruction+"\n"+
			"语言：%s；风格：%s；字数范围：%d~%d。\n"+
			"请严格输出 JSON。\n\n"+
			"<chapter>\n%s\n</chapter>\n",
		language, style, words[0], words[1], chapterText)
	return chapterSystemPrompt, user
}

func bookSummaryPrompts(language, style string, words [2]int, chapterSummariesJSON string) (system, user string) {
	user = fmt.Sprintf(
		"请基于以下章节摘要 JSON 列表，生成全书级 JSON：\n"+
			"字段要求：\n"+
			"- summary: 全书总结（自然语言）\n"+
			"- characters: 人物数组（每项包含 name, aliases[], relationships, motivation, changes）\n"+
			"- timeline: 事件数组（每项包含 chapter_idx, event, impact）\n"+
			"- themes: 主题数组（字符串）\n"+
			noCitationsInstruction+"\n"+
			"语言：%s；风格：%s；字数范围：%d~%d。\n"+
			"请严格输出 JSON。\n\n"+
			"<chapter_summaries_json>\n%s\n</chapter_summaries_json>\n",
		language, style, words[0], words[1], chapterSummariesJSON)
	return bookSystemPrompt, user
}

func storySummaryPrompts(language, style string, words [2]int, chapterSummariesJSON string) (system, user string) {
	user = fmt.Sprintf(
		"请基于以下章节摘要 JSON 列表，生成说书人风格的连贯叙事稿：\n"+
			"字段要求：\n"+
			"- story: 连贯叙述，按剧情推进，分段输出，不要写列表或小标题\n"+
			noCitationsInstruction+"\n"+
			"语言：%s；风格：%s；字数范围：%d~%d。\n"+
			"请严格输出 JSON。\n\n"+
			"<chapter_summaries_json>\n%s\n</chapter_summaries_json>\n",
		language, style, words[0], words[1], chapterSummariesJSON)
	return storySystemPrompt, user
}
