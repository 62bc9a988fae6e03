package prompts

// enPack holds the English prompt templates.
var enPack = map[string]string{

	BoundaryDetection: `You are a conversation boundary analyst for a chat memory system.
Given the recent conversation history and a batch of newly arrived messages, decide whether the history forms a completed topic that should be archived now.

Conversation history:
{history_dialogue}

New messages:
{new_dialogue}

Time gap between the last history message and the first new message: {time_gap}

Decision rules:
- should_end: the history discusses a topic that has concluded; the new messages either start a different topic or arrive after a long pause.
- should_wait: the new messages continue the history topic (or are too fragmentary to judge) and more messages are expected; archiving now would cut the topic in half.
- should_end and should_wait are mutually exclusive; both false means the conversation flows on normally.
- confidence is a number between 0 and 1.
- topic_summary: one sentence summarizing the history topic; leave empty when should_end is false.

Respond with a single JSON object and nothing else:
{"should_end": false, "should_wait": false, "reasoning": "<short explanation>", "confidence": 0.0, "topic_summary": ""}`,

	EpisodePersonal: `You are a memory writer. Turn the conversation below into a third-person episodic memory centered on what {user_name} said, did, decided and asked.

The conversation started at {start_time}.

Conversation (JSON lines):
{conversation}

Requirements:
- title: 10 to 20 words naming the event from {user_name}'s point of view.
- summary: at most 200 characters.
- content: a detailed third-person narrative. Keep concrete facts (numbers, dates, places, commitments) exactly as stated. Resolve relative dates ("next Friday", "tomorrow") against the conversation start time and write them as absolute dates.
- Write in the same language the conversation uses.
{custom_instructions}

Respond with a single JSON object and nothing else:
{"title": "...", "summary": "...", "content": "..."}`,

	EpisodeGroup: `You are a memory writer. Turn the conversation below into a third-person episodic memory of what happened in this group: decisions made, tasks assigned, facts established, questions left open.

The conversation started at {start_time}.

Conversation (JSON lines):
{conversation}

Requirements:
- title: 10 to 20 words naming the event.
- summary: at most 200 characters.
- content: a detailed third-person narrative covering every participant's contribution. Keep concrete facts (numbers, dates, places, commitments) exactly as stated. Resolve relative dates against the conversation start time and write them as absolute dates.
- Write in the same language the conversation uses.
{custom_instructions}

Respond with a single JSON object and nothing else:
{"title": "...", "summary": "...", "content": "..."}`,

	EventLog: `Extract atomic facts from the episode below. An atomic fact is one complete, self-contained sentence a search engine could match on its own: name who, what, when and where explicitly, and never use a pronoun whose referent lives in another fact.

The episode happened at {timestamp}.

Episode:
{episode}

Respond with a single JSON object and nothing else:
{"event_log": {"time": "{timestamp}", "atomic_fact": ["<sentence>", "<sentence>"]}}`,

	ProfileSkills: `You are a profile analyst. From the conversation below, extract each user's professional skills, personality traits, decision-making style and working habits. Report only what the conversation actually supports.

Speakers (user_id: name):
{speakers}

Conversation (each segment is marked with its MEMCELL_ID):
{conversation}

Rules:
- Output one object per user under "user_profiles"; each profile carries user_id and user_name.
- Fields to fill: hard_skills, soft_skills, personality, way_of_decision_making, working_habit_preference.
- Every entry must carry "evidences": the MEMCELL_ID values of the segments supporting it.
- hard_skills and soft_skills entries carry "level": expert, advanced, high or strong for clear mastery; medium or intermediate for working knowledge; low, basic, beginner, familiar or weak for passing mention.
- Skip users with nothing to report. Never invent facts.

The response must be valid JSON matching this schema:
{schema}`,

	ProfileWork: `You are a profile analyst. From the conversation below, extract each user's work responsibility, opinion tendencies and project participation. Report only what the conversation actually supports.

Speakers (user_id: name):
{speakers}

Conversation (each segment is marked with its MEMCELL_ID):
{conversation}

Rules:
- Output one object per user under "user_profiles"; each profile carries user_id and user_name.
- Fields to fill: work_responsibility, tendency, projects_participated.
- tendency entries carry "type": one of "stance", "suggestion", "his own opinion".
- projects_participated entries carry: project_id (only if stated), project_name, entry_date, subtasks (entries of type "taskbyhimself"), user_objective, contributions (entries of type "result"), user_concerns. Every nested entry carries its own "evidences".
- Every entry must carry "evidences": the MEMCELL_ID values of the segments supporting it.
- Skip users with nothing to report. Never invent facts.

The response must be valid JSON matching this schema:
{schema}`,

	ProfilePreference: `You are a profile analyst. From the conversation below, extract each user's stable preferences: what motivates them, what they avoid, what they value, their humor, their characteristic phrases, their interests and their goals. Report only what the conversation actually supports.

Speakers (user_id: name):
{speakers}

Conversation (each segment is marked with its MEMCELL_ID):
{conversation}

Rules:
- Output one object per user under "user_profiles"; each profile carries user_id and user_name.
- Fields to fill: motivation_system, fear_system, value_system, humor_use, colloquialism, interests, user_goal.
- Align each entry's "value" with the closed preference taxonomy below; pick the closest item instead of inventing a new category.
- Every entry must carry "evidences": the MEMCELL_ID values of the segments supporting it.
- Skip users with nothing to report. Never invent facts.

Preference taxonomy:
{taxonomy}

The response must be valid JSON matching this schema:
{schema}`,

	EvidenceCompletion: `The user profiles below were extracted from the conversation, but some entries are missing their "evidences" lists. For every entry that lacks evidences, find the MEMCELL_ID values of the conversation segments that support it.

Conversation (each segment is marked with its MEMCELL_ID):
{conversation}

Profiles:
{profiles}

Respond with the same "user_profiles" JSON structure. Keep every entry exactly as given; only fill in missing "evidences" arrays. Do not add, remove or reword entries.`,

	JSONRepair: `The text below was supposed to be one valid JSON document but is malformed. Fix the syntax only: preserve every key and value. Respond with the corrected JSON and nothing else.

{payload}`,

	GroupContent: `You are a group-memory analyst. Analyze the conversation below and maintain this group's topic list.

Existing topics:
{existing_topics}

Conversation (each segment is marked with its MEMCELL_ID):
{conversation}

Rules:
- topics: at most {max_topics} items covering what the group is working on or discussing.
- For each topic set update_type: "update" when it continues an existing topic (set old_topic_id to that topic's id), otherwise "new".
- Each topic carries: name, summary, status (one of exploring, implementing, implemented), confidence (strong or weak), evidences (supporting MEMCELL_ID values).
- subject: 10 to 20 words naming what this group is about.
- summary: at most 200 characters describing the group's current state.

Respond with a single JSON object and nothing else:
{"subject": "...", "summary": "...", "topics": [{"name": "...", "summary": "...", "status": "exploring", "confidence": "weak", "update_type": "new", "old_topic_id": "", "evidences": ["..."]}]}`,

	GroupBehavior: `You are a group-behavior analyst. Determine who plays which role in this group based on the conversation.

Allowed role names: {roles}

Existing role assignments:
{existing_roles}

Conversation (each segment is marked with its MEMCELL_ID):
{conversation}

Rules:
- Assign a role only when the conversation shows the behavior; evidences are the supporting MEMCELL_ID values.
- confidence: strong when the behavior repeats or is explicit, weak otherwise.
- A user may hold several roles and a role may have several users.
- Use only the allowed role names.

Respond with a single JSON object and nothing else:
{"roles": {"coordinator": [{"user_id": "...", "user_name": "...", "confidence": "weak", "evidences": ["..."]}]}}`,

	SufficiencyCheck: `You judge whether retrieved memories are sufficient to answer a question.

Question: {query}

Retrieved memories:
{documents}

If the memories contain the facts needed to answer the question, is_sufficient is true. If key facts are missing, is_sufficient is false and missing_information names exactly what is absent (entities, time ranges, specific values), not generic phrases.

Respond with a single JSON object and nothing else:
{"is_sufficient": true, "reasoning": "<short>", "missing_information": ""}`,

	MultiQuery: `Rewrite a memory-search query to recover missing information.

Original query: {query}
Missing information: {missing_information}

Produce {num_queries} refined search queries. Each query:
- targets the missing information from a different angle (entities, time, place, people involved),
- is self-contained and between 5 and 300 characters,
- must not be identical to the original query.

Respond with a single JSON object and nothing else:
{"queries": ["...", "..."], "reasoning": "<why these angles>"}`,
}
