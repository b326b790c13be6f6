package sqlite

// Schema migration units. Each unit is named {4-digit version}_{description}
// and applied as one transaction; the runner sorts them numerically and
// applies everything above the store's current version.
//
// Units are append-only. Never edit a shipped unit; add a new one.
var migrations = []migrationUnit{
	{
		Name: "0001_worlds_agents_chats",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS worlds (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				turn_limit INTEGER NOT NULL DEFAULT 5,
				main_agent TEXT NOT NULL DEFAULT '',
				chat_provider TEXT NOT NULL DEFAULT '',
				chat_model TEXT NOT NULL DEFAULT '',
				current_chat_id TEXT,
				variables TEXT NOT NULL DEFAULT '',
				tool_config TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`,
			`CREATE TABLE IF NOT EXISTS agents (
				id TEXT NOT NULL,
				world_id TEXT NOT NULL REFERENCES worlds(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				type TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT '',
				provider TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				system_prompt TEXT NOT NULL DEFAULT '',
				temperature REAL NOT NULL DEFAULT 0,
				max_tokens INTEGER NOT NULL DEFAULT 0,
				llm_call_count INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				last_active DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (id, world_id)
			);`,
			`CREATE TABLE IF NOT EXISTS agent_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				world_id TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				memory_index INTEGER NOT NULL,
				role TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
				content TEXT NOT NULL DEFAULT '',
				sender TEXT NOT NULL DEFAULT '',
				chat_id TEXT,
				message_id TEXT NOT NULL,
				reply_to_message_id TEXT,
				tool_calls TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (agent_id, world_id) REFERENCES agents(id, world_id) ON DELETE CASCADE
			);`,
			`CREATE TABLE IF NOT EXISTS chats (
				id TEXT NOT NULL,
				world_id TEXT NOT NULL REFERENCES worlds(id) ON DELETE CASCADE,
				name TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				message_count INTEGER NOT NULL DEFAULT 0,
				tags TEXT NOT NULL DEFAULT '[]',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (id, world_id)
			);`,
		},
	},
	{
		Name: "0002_chat_snapshots",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS chat_snapshots (
				world_id TEXT NOT NULL,
				chat_id TEXT NOT NULL,
				snapshot TEXT NOT NULL,
				captured_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (world_id, chat_id),
				FOREIGN KEY (chat_id, world_id) REFERENCES chats(id, world_id) ON DELETE CASCADE
			);`,
		},
	},
	{
		Name: "0003_world_events",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS world_events (
				world_id TEXT NOT NULL,
				chat_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				type TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '{}',
				meta TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (world_id, chat_id, seq)
			);`,
		},
	},
	{
		Name: "0004_queue_messages",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS queue_messages (
				id TEXT PRIMARY KEY,
				world_id TEXT NOT NULL,
				chat_id TEXT NOT NULL,
				message_id TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				sender TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL CHECK(status IN ('pending', 'processing', 'completed', 'failed')),
				priority INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				processed_at DATETIME,
				heartbeat_at DATETIME,
				completed_at DATETIME,
				error TEXT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				timeout_seconds INTEGER NOT NULL DEFAULT 300
			);`,
		},
	},
	{
		Name: "0005_indexes",
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_agents_world ON agents(world_id);`,
			`CREATE INDEX IF NOT EXISTS idx_agent_messages_agent ON agent_messages(world_id, agent_id, memory_index);`,
			`CREATE INDEX IF NOT EXISTS idx_agent_messages_chat ON agent_messages(world_id, chat_id);`,
			`CREATE INDEX IF NOT EXISTS idx_chats_world ON chats(world_id);`,
			`CREATE INDEX IF NOT EXISTS idx_world_events_lane ON world_events(world_id, chat_id, seq);`,
			`CREATE INDEX IF NOT EXISTS idx_queue_lane_status ON queue_messages(world_id, chat_id, status, priority, created_at);`,
			`CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_messages(status, heartbeat_at);`,
		},
	},
}
