package prompts

// zhPack holds the Chinese prompt templates. JSON keys stay in English so
// the parsers are locale-independent.
var zhPack = map[string]string{

	BoundaryDetection: `你是聊天记忆系统的话题边界分析师。
根据下面的历史对话和新到达的消息,判断历史对话是否构成一个已经结束、现在就应该归档的话题。

历史对话:
{history_dialogue}

新消息:
{new_dialogue}

最后一条历史消息与第一条新消息之间的时间间隔:{time_gap}

判断规则:
- should_end:历史对话的话题已经结束;新消息开启了不同的话题,或者间隔了很长时间才到达。
- should_wait:新消息延续历史话题(或者信息太零碎无法判断),后续还会有消息;现在归档会把话题截断。
- should_end 和 should_wait 互斥;两者都为 false 表示对话正常继续。
- confidence 取 0 到 1 之间的数值。
- topic_summary:用一句话概括历史话题;should_end 为 false 时留空。

只输出一个 JSON 对象,不要输出其他内容:
{"should_end": false, "should_wait": false, "reasoning": "<简短说明>", "confidence": 0.0, "topic_summary": ""}`,

	EpisodePersonal: `你是记忆撰写员。把下面的对话改写成以 {user_name} 为中心的第三人称情景记忆,记录这个人说了什么、做了什么、做了哪些决定、提出了哪些问题。

对话开始于 {start_time}。

对话内容(JSON 行):
{conversation}

要求:
- title:10 到 20 个词,从 {user_name} 的视角命名这次事件。
- summary:不超过 200 个字符。
- content:详细的第三人称叙述。数字、日期、地点、承诺等具体事实必须原样保留。相对日期("下周五"、"明天")要根据对话开始时间换算成绝对日期。
- 使用对话本身的语言。
{custom_instructions}

只输出一个 JSON 对象,不要输出其他内容:
{"title": "...", "summary": "...", "content": "..."}`,

	EpisodeGroup: `你是记忆撰写员。把下面的对话改写成第三人称的群组情景记忆:做出的决定、分配的任务、确认的事实、遗留的问题。

对话开始于 {start_time}。

对话内容(JSON 行):
{conversation}

要求:
- title:10 到 20 个词,命名这次事件。
- summary:不超过 200 个字符。
- content:详细的第三人称叙述,覆盖每位参与者的贡献。数字、日期、地点、承诺等具体事实必须原样保留。相对日期要根据对话开始时间换算成绝对日期。
- 使用对话本身的语言。
{custom_instructions}

只输出一个 JSON 对象,不要输出其他内容:
{"title": "...", "summary": "...", "content": "..."}`,

	EventLog: `从下面的情景记忆中抽取原子事实。每条原子事实是一个完整、自含的句子,搜索引擎可以单独匹配:明确写出人物、事件、时间、地点,不要使用指代其他句子内容的代词。

事件发生于 {timestamp}。

情景记忆:
{episode}

只输出一个 JSON 对象,不要输出其他内容:
{"event_log": {"time": "{timestamp}", "atomic_fact": ["<句子>", "<句子>"]}}`,

	ProfileSkills: `你是用户画像分析师。从下面的对话中抽取每个用户的专业技能、性格特征、决策方式和工作习惯。只报告对话实际支持的内容。

发言人(user_id: 姓名):
{speakers}

对话内容(每个片段以 MEMCELL_ID 标记):
{conversation}

规则:
- 在 "user_profiles" 下为每个用户输出一个对象;每个画像包含 user_id 和 user_name。
- 需要填写的字段:hard_skills、soft_skills、personality、way_of_decision_making、working_habit_preference。
- 每个条目必须带 "evidences":支持它的片段的 MEMCELL_ID 列表。
- hard_skills 和 soft_skills 条目带 "level":明显精通用 expert、advanced、high 或 strong;有工作经验用 medium 或 intermediate;只是提到过用 low、basic、beginner、familiar 或 weak。
- 没有可报告内容的用户直接跳过。绝不编造事实。

输出必须是符合以下 schema 的合法 JSON:
{schema}`,

	ProfileWork: `你是用户画像分析师。从下面的对话中抽取每个用户的工作职责、观点倾向和项目参与情况。只报告对话实际支持的内容。

发言人(user_id: 姓名):
{speakers}

对话内容(每个片段以 MEMCELL_ID 标记):
{conversation}

规则:
- 在 "user_profiles" 下为每个用户输出一个对象;每个画像包含 user_id 和 user_name。
- 需要填写的字段:work_responsibility、tendency、projects_participated。
- tendency 条目带 "type",取值为 "stance"、"suggestion"、"his own opinion" 之一。
- projects_participated 条目包含:project_id(仅在明确提到时)、project_name、entry_date、subtasks(type 为 "taskbyhimself" 的条目)、user_objective、contributions(type 为 "result" 的条目)、user_concerns。每个嵌套条目都带自己的 "evidences"。
- 每个条目必须带 "evidences":支持它的片段的 MEMCELL_ID 列表。
- 没有可报告内容的用户直接跳过。绝不编造事实。

输出必须是符合以下 schema 的合法 JSON:
{schema}`,

	ProfilePreference: `你是用户画像分析师。从下面的对话中抽取每个用户的稳定偏好:动机、顾虑、价值观、幽默方式、口头禅、兴趣和目标。只报告对话实际支持的内容。

发言人(user_id: 姓名):
{speakers}

对话内容(每个片段以 MEMCELL_ID 标记):
{conversation}

规则:
- 在 "user_profiles" 下为每个用户输出一个对象;每个画像包含 user_id 和 user_name。
- 需要填写的字段:motivation_system、fear_system、value_system、humor_use、colloquialism、interests、user_goal。
- 每个条目的 "value" 必须对齐下面的封闭偏好分类;选择最接近的一项,不要发明新类别。
- 每个条目必须带 "evidences":支持它的片段的 MEMCELL_ID 列表。
- 没有可报告内容的用户直接跳过。绝不编造事实。

偏好分类:
{taxonomy}

输出必须是符合以下 schema 的合法 JSON:
{schema}`,

	EvidenceCompletion: `下面的用户画像是从对话中抽取的,但部分条目缺少 "evidences" 列表。为每个缺少 evidences 的条目,从对话中找出支持它的片段的 MEMCELL_ID。

对话内容(每个片段以 MEMCELL_ID 标记):
{conversation}

画像:
{profiles}

按相同的 "user_profiles" JSON 结构输出。保持每个条目原样;只补齐缺失的 "evidences" 数组。不要增加、删除或改写条目。`,

	JSONRepair: `下面的文本本应是一个合法的 JSON 文档,但存在格式错误。只修复语法:保留所有键和值。只输出修复后的 JSON,不要输出其他内容。

{payload}`,

	GroupContent: `你是群组记忆分析师。分析下面的对话,维护这个群组的话题列表。

已有话题:
{existing_topics}

对话内容(每个片段以 MEMCELL_ID 标记):
{conversation}

规则:
- topics:最多 {max_topics} 项,覆盖群组正在进行或讨论的事项。
- 每个话题设置 update_type:延续已有话题时为 "update"(并把 old_topic_id 设为该话题的 id),否则为 "new"。
- 每个话题包含:name、summary、status(exploring、implementing、implemented 之一)、confidence(strong 或 weak)、evidences(支持的 MEMCELL_ID 列表)。
- subject:10 到 20 个词,说明这个群组是做什么的。
- summary:不超过 200 个字符,描述群组当前状态。

只输出一个 JSON 对象,不要输出其他内容:
{"subject": "...", "summary": "...", "topics": [{"name": "...", "summary": "...", "status": "exploring", "confidence": "weak", "update_type": "new", "old_topic_id": "", "evidences": ["..."]}]}`,

	GroupBehavior: `你是群组行为分析师。根据下面的对话判断每个人在群组中扮演的角色。

允许的角色名:{roles}

已有角色分配:
{existing_roles}

对话内容(每个片段以 MEMCELL_ID 标记):
{conversation}

规则:
- 只有对话表现出相应行为时才分配角色;evidences 为支持的 MEMCELL_ID 列表。
- confidence:行为反复出现或明确表述时为 strong,否则为 weak。
- 一个用户可以有多个角色,一个角色可以有多个用户。
- 只使用允许的角色名。

只输出一个 JSON 对象,不要输出其他内容:
{"roles": {"coordinator": [{"user_id": "...", "user_name": "...", "confidence": "weak", "evidences": ["..."]}]}}`,

	SufficiencyCheck: `你负责判断检索到的记忆是否足以回答问题。

问题:{query}

检索到的记忆:
{documents}

如果记忆中包含回答问题所需的事实,is_sufficient 为 true。如果缺少关键事实,is_sufficient 为 false,并在 missing_information 中具体写出缺什么(实体、时间范围、具体数值),不要写泛泛的话。

只输出一个 JSON 对象,不要输出其他内容:
{"is_sufficient": true, "reasoning": "<简短>", "missing_information": ""}`,

	MultiQuery: `改写记忆检索查询,以找回缺失的信息。

原始查询:{query}
缺失信息:{missing_information}

生成 {num_queries} 条改写后的检索查询。每条查询:
- 从不同角度(实体、时间、地点、相关人物)瞄准缺失信息,
- 自含完整,长度在 5 到 300 个字符之间,
- 不得与原始查询完全相同。

只输出一个 JSON 对象,不要输出其他内容:
{"queries": ["...", "..."], "reasoning": "<选择这些角度的原因>"}`,
}
