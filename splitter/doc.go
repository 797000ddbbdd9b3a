// Package splitter 提供文本分块策略。
//
// 两种可互换实现：
//   - FixedSplitter：单一分隔符切分后贪心打包
//   - RecursiveSplitter：按分隔符优先级递归细分（生产推荐）
//
// 两者共享同一契约：块长度（按可插拔长度函数）不超过 chunk_size，
// 唯一例外是本身超限的不可再分原子单元——原样发射并告警，绝不截断。
package splitter
