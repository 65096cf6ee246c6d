package storyteller

import (
	"fmt"

	"github.com/taleteller/taleteller/internal/llm"
)

// Prompt versions participate in narration identity: bumping one
// invalidates every cached narration produced under it.
const (
	NarrationPromptVersion     = "v0-mvp"
	RefinePromptVersion        = "v0-refine"
	EntityPromptVersion        = "v0-mvp"
	StepNarrationPromptVersion = "v1-step-aggregate"
)

var entitySchema = llm.MustSchema("entity_extract", `{
	"type": "object",
	"properties": {
		"characters": {"type": "array", "items": {"type": "string"}},
		"locations": {"type": "array", "items": {"type": "string"}},
		"items": {"type": "array", "items": {"type": "string"}},
		"key_phrases": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["characters", "locations", "items", "key_phrases"],
	"additionalProperties": false
}`)

var narrationSchema = llm.MustSchema("narration", `{
	"type": "object",
	"properties": {
		"narration": {"type": "string"},
		"key_events": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"who": {"type": "string"},
					"what": {"type": "string"},
					"where": {"type": "string"},
					"outcome": {"type": "string"},
					"impact": {"type": "string"}
				},
				"required": ["who", "what", "where", "outcome", "impact"],
				"additionalProperties": false
			}
		},
		"character_updates": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"change_type": {"type": "string"},
					"before": {"type": "string"},
					"after": {"type": "string"},
					"evidence": {"type": "string"}
				},
				"required": ["name", "change_type", "before", "after", "evidence"],
				"additionalProperties": false
			}
		},
		"new_items": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"owner": {"type": "string"},
					"description": {"type": "string"}
				},
				"required": ["name", "owner", "description"],
				"additionalProperties": false
			}
		}
	},
	"required": ["narration", "key_events", "character_updates", "new_items"],
	"additionalProperties": false
}`)

var refineSchema = llm.MustSchema("refine_narration", `{
	"type": "object",
	"properties": {
		"narration": {"type": "string"}
	},
	"required": ["narration"],
	"additionalProperties": false
}`)

var stepNarrationSchema = llm.MustSchema("step_narration", `{
	"type": "object",
	"properties": {
		"step_start_chapter_idx": {"type": "integer"},
		"step_end_chapter_idx": {"type": "integer"},
		"narration": {"type": "string"},
		"key_events": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"who": {"type": "string"},
					"what": {"type": "string"},
					"where": {"type": "string"},
					"outcome": {"type": "string"},
					"impact": {"type": "string"}
				},
				"required": ["who", "what", "where", "outcome", "impact"],
				"additionalProperties": false
			}
		},
		"character_updates": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"change_type": {"type": "string"},
					"before": {"type": "string"},
					"after": {"type": "string"},
					"evidence": {"type": "string"}
				},
				"required": ["name", "change_type", "before", "after", "evidence"],
				"additionalProperties": false
			}
		},
		"new_items": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"owner": {"type": "string"},
					"description": {"type": "string"}
				},
				"required": ["name", "owner", "description"],
				"additionalProperties": false
			}
		}
	},
	"required": ["step_start_chapter_idx", "step_end_chapter_idx", "narration", "key_events", "character_updates", "new_items"],
	"additionalProperties": false
}`)

func entityPrompt(language, chapterText string) (system, user string) {
	system = "You are a strict NER extractor for novel chapters. Always return JSON only."
	user = fmt.Sprintf(
		"Language: %s\n"+
			"Extract characters, locations, items, and key phrases from this chapter text.\n"+
			"Return JSON: {\"characters\": [], \"locations\": [], \"items\": [], \"key_phrases\": []}\n\n"+
			"Chapter text:\n%s",
		language, chapterText)
	return system, user
}

func narrationPrompt(language, style string, settings TierSettings,
	characterStates, itemStates, recentEvents, awakenedMemories, chapterTitle, chapterText string) (system, user string) {
	system = "你是一位资深评书艺人/剧情解说作者。" +
		"你的目标不是压缩，而是重写：在不偏离事实的前提下，用强叙事表达重写本章。" +
		"只输出严格有效 JSON，不要输出 markdown，不要输出解释。"

	dialogueRule := "尽量少引用对白。"
	if settings.IncludeKeyDialogue {
		dialogueRule = "保留关键对白。"
	}
	thoughtRule := "心理活动仅保留必要信息。"
	if settings.IncludeInnerThoughts {
		thoughtRule = "保留人物关键心理活动。"
	}

	user = fmt.Sprintf(
		"语言：%s\n"+
			"风格：%s\n"+
			"篇幅比例目标（相对原文）：%.2f~%.2f\n"+
			"额外要求：%s%s\n\n"+
			"请综合以下上下文生成本章说书稿：\n"+
			"1) 世界观状态（硬约束，优先级最高）\n%s\n\n"+
			"2) 道具状态\n%s\n\n"+
			"3) 最近关键事件\n%s\n\n"+
			"4) 被唤醒的前情记忆\n%s\n\n"+
			"5) 本章原文\n标题：%s\n%s\n\n"+
			"输出 JSON schema：\n"+
			"{\n"+
			"  \"narration\": \"string\",\n"+
			"  \"key_events\": [{\"who\":\"string\",\"what\":\"string\",\"where\":\"string\",\"outcome\":\"string\",\"impact\":\"string\"}],\n"+
			"  \"character_updates\": [{\"name\":\"string\",\"change_type\":\"status|location|ability|relationship\",\"before\":\"string\",\"after\":\"string\",\"evidence\":\"string\"}],\n"+
			"  \"new_items\": [{\"name\":\"string\",\"owner\":\"string\",\"description\":\"string\"}]\n"+
			"}\n",
		language, style, settings.NarrationRatio[0], settings.NarrationRatio[1],
		dialogueRule, thoughtRule,
		characterStates, itemStates, recentEvents, awakenedMemories,
		chapterTitle, chapterText)
	return system, user
}

func refinePrompt(language, style, keyEvents, characterUpdates, draftNarration string) (system, user string) {
	system = "你是一位小说叙事润色编辑。" +
		"请在不改变事实的前提下，优化叙事连贯性、节奏和文风统一性。" +
		"只输出严格 JSON，不要输出 markdown。"
	user = fmt.Sprintf(
		"语言：%s\n"+
			"目标风格：%s\n\n"+
			"你会收到初稿和结构化约束，请仅做润色，不新增虚构事实。\n"+
			"关键事件（不可丢失）：\n%s\n\n"+
			"人物更新（不可丢失）：\n%s\n\n"+
			"初稿：\n%s\n\n"+
			"输出 JSON schema：\n{\n  \"narration\": \"string\"\n}\n",
		language, style, keyEvents, characterUpdates, draftNarration)
	return system, user
}

func stepNarrationPrompt(language, style string, stepStart, stepEnd int, baseWorldState, chapters string) (system, user string) {
	system = "你是一位资深评书艺人/剧情解说作者。" +
		"你的目标不是压缩，而是重写：在不偏离事实的前提下，对一个 step 范围进行整体重写。" +
		"你将一次处理多个章节，但只能输出一个 step 级聚合结果，且遵守同一份世界观硬约束。" +
		"只输出严格有效 JSON 对象，不要输出 markdown，不要输出解释。"

	user = fmt.Sprintf(
		"语言：%s\n"+
			"风格：%s\n\n"+
			"你会收到：\n"+
			"- step 基准世界观状态（硬约束，所有章节共享）\n"+
			"- 多个章节的原文与该章的唤醒前情（软约束）\n\n"+
			"step 范围：第 %d 章 到 第 %d 章。\n"+
			"请输出一个 step 级说书稿（不要逐章拆分输出）。\n\n"+
			"step 基准世界观状态（硬约束，所有章节共享）：\n%s\n\n"+
			"chapters（用于汇总，不要引用 step 范围外未来信息）：\n%s\n\n"+
			"输出 JSON schema（单个对象）：\n"+
			"  {\n"+
			"    \"step_start_chapter_idx\": 1,\n"+
			"    \"step_end_chapter_idx\": 8,\n"+
			"    \"narration\": \"string\",\n"+
			"    \"key_events\": [{\"who\":\"string\",\"what\":\"string\",\"where\":\"string\",\"outcome\":\"string\",\"impact\":\"string\"}],\n"+
			"    \"character_updates\": [{\"name\":\"string\",\"change_type\":\"status|location|ability|relationship\",\"before\":\"string\",\"after\":\"string\",\"evidence\":\"string\"}],\n"+
			"    \"new_items\": [{\"name\":\"string\",\"owner\":\"string\",\"description\":\"string\"}]\n"+
			"  }\n",
		language, style, stepStart, stepEnd, baseWorldState, chapters)
	return system, user
}
