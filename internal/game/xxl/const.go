package xxl

const (
	GameID   = 19303
	GameName = "雪崩消除"
)

const (
	_rowCount int64 = 7 // 行数
	_colCount int64 = 7 // 列数
)

const (
	_blank   int64 = 0  // 空格
	_        int64 = 1  // 樱桃
	_        int64 = 2  // 柠檬
	_        int64 = 3  // 西瓜
	_        int64 = 4  // 葡萄
	_        int64 = 5  // 铃铛
	_        int64 = 6  // 皇冠
	_        int64 = 7  // 钻石
	_        int64 = 8  // 七
	_scatter int64 = 9  // 夺宝
)

const _symbolCount = 8 // 普通符号数量（不含夺宝）

const _maxCascadeSteps = 100 // 单次spin最大消除轮数
